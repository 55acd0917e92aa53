package storage

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"creditpool/credit"
	"creditpool/distribution"
	"creditpool/pool"
)

const (
	creditRecordKeyFormat = "creditpool/credit/record/%s"
	collateralKeyFormat   = "creditpool/credit/collateral/%s"
	lenderKeyFormat       = "creditpool/pool/lender/%s"
	lenderIndexKey        = "creditpool/pool/lender-index"
	distributionKey       = "creditpool/pool/distribution"
)

var (
	errNilDatabase      = errors.New("storage: database not configured")
	errNilEntry         = errors.New("storage: nil entry")
	errChecksumMismatch = errors.New("storage: checksum mismatch")
)

// Store persists the pool's durable state as RLP-encoded rows in a key-value
// database. Every row carries a keccak checksum over its payload fields which
// is verified on load.
type Store struct {
	db Database
	mu sync.RWMutex
}

// NewStore wraps the supplied database.
func NewStore(db Database) (*Store, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	return &Store{db: db}, nil
}

func checksum(parts ...[]byte) string {
	return hex.EncodeToString(ethcrypto.Keccak256(parts...))
}

func appendUint64(payload []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(payload, buf[:]...)
}

func bigBytes(v *big.Int) []byte {
	if v == nil {
		return nil
	}
	return v.Bytes()
}

func bigFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// storedSigned carries a signed big integer: RLP has no native negative
// integer encoding, so the sign travels as a separate flag.
type storedSigned struct {
	Neg bool
	Abs []byte
}

func signedBytes(v *big.Int) storedSigned {
	if v == nil {
		return storedSigned{}
	}
	return storedSigned{Neg: v.Sign() < 0, Abs: new(big.Int).Abs(v).Bytes()}
}

func signedFromBytes(s storedSigned) *big.Int {
	v := new(big.Int).SetBytes(s.Abs)
	if s.Neg {
		v.Neg(v)
	}
	return v
}

type storedCreditRecord struct {
	Borrower          []byte
	CreditLimit       []byte
	Balance           []byte
	AprBps            uint64
	Schedule          uint8
	IntervalDays      uint32
	RemainingPayments uint32
	DueDate           uint64
	DueAmount         []byte
	State             uint8
	Checksum          string
}

// payload covers every stored field so any tampering breaks the checksum.
// Fixed-width encodings keep field boundaries unambiguous.
func (s *storedCreditRecord) payload() []byte {
	payload := append([]byte(nil), s.Borrower...)
	payload = append(payload, s.CreditLimit...)
	payload = append(payload, s.Balance...)
	payload = append(payload, s.DueAmount...)
	payload = appendUint64(payload, s.AprBps)
	payload = appendUint64(payload, uint64(s.IntervalDays))
	payload = appendUint64(payload, uint64(s.RemainingPayments))
	payload = appendUint64(payload, s.DueDate)
	payload = append(payload, byte(s.State), byte(s.Schedule))
	return payload
}

// GetCreditRecord loads the borrower's credit record, or nil when none has
// been stored yet.
func (s *Store) GetCreditRecord(borrower [20]byte) (*credit.CreditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := s.get(fmt.Sprintf(creditRecordKeyFormat, hex.EncodeToString(borrower[:])))
	if err != nil || data == nil {
		return nil, err
	}
	var stored storedCreditRecord
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	if stored.Checksum != checksum(stored.payload()) {
		return nil, errChecksumMismatch
	}
	rec := &credit.CreditRecord{
		CreditLimit:       bigFromBytes(stored.CreditLimit),
		Balance:           bigFromBytes(stored.Balance),
		AprBps:            stored.AprBps,
		Schedule:          credit.PaymentSchedule(stored.Schedule),
		IntervalDays:      stored.IntervalDays,
		RemainingPayments: stored.RemainingPayments,
		DueDate:           int64(stored.DueDate),
		DueAmount:         bigFromBytes(stored.DueAmount),
		State:             credit.CreditState(stored.State),
	}
	copy(rec.Borrower[:], stored.Borrower)
	return rec, nil
}

// PutCreditRecord inserts or replaces the borrower's credit record.
func (s *Store) PutCreditRecord(rec *credit.CreditRecord) error {
	if rec == nil {
		return errNilEntry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := storedCreditRecord{
		Borrower:          append([]byte(nil), rec.Borrower[:]...),
		CreditLimit:       bigBytes(rec.CreditLimit),
		Balance:           bigBytes(rec.Balance),
		AprBps:            rec.AprBps,
		Schedule:          uint8(rec.Schedule),
		IntervalDays:      rec.IntervalDays,
		RemainingPayments: rec.RemainingPayments,
		DueDate:           uint64(rec.DueDate),
		DueAmount:         bigBytes(rec.DueAmount),
		State:             uint8(rec.State),
	}
	stored.Checksum = checksum(stored.payload())
	return s.put(fmt.Sprintf(creditRecordKeyFormat, hex.EncodeToString(rec.Borrower[:])), &stored)
}

type storedCollateral struct {
	Borrower []byte
	Asset    []byte
	Kind     uint8
	TokenID  []byte
	Amount   []byte
	Checksum string
}

func (s *storedCollateral) payload() []byte {
	payload := append([]byte(nil), s.Borrower...)
	payload = append(payload, s.Asset...)
	payload = append(payload, s.TokenID...)
	payload = append(payload, s.Amount...)
	payload = append(payload, byte(s.Kind))
	return payload
}

// GetCollateralInfo loads the borrower's collateral position, or nil when
// none is held.
func (s *Store) GetCollateralInfo(borrower [20]byte) (*credit.CollateralInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := s.get(fmt.Sprintf(collateralKeyFormat, hex.EncodeToString(borrower[:])))
	if err != nil || data == nil {
		return nil, err
	}
	var stored storedCollateral
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	if stored.Checksum != checksum(stored.payload()) {
		return nil, errChecksumMismatch
	}
	info := &credit.CollateralInfo{
		Kind:    credit.CollateralKind(stored.Kind),
		TokenID: bigFromBytes(stored.TokenID),
		Amount:  bigFromBytes(stored.Amount),
	}
	copy(info.Borrower[:], stored.Borrower)
	copy(info.Asset[:], stored.Asset)
	return info, nil
}

// PutCollateralInfo inserts or replaces the borrower's collateral position.
func (s *Store) PutCollateralInfo(info *credit.CollateralInfo) error {
	if info == nil {
		return errNilEntry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := storedCollateral{
		Borrower: append([]byte(nil), info.Borrower[:]...),
		Asset:    append([]byte(nil), info.Asset[:]...),
		Kind:     uint8(info.Kind),
		TokenID:  bigBytes(info.TokenID),
		Amount:   bigBytes(info.Amount),
	}
	stored.Checksum = checksum(stored.payload())
	return s.put(fmt.Sprintf(collateralKeyFormat, hex.EncodeToString(info.Borrower[:])), &stored)
}

type storedLender struct {
	Address             []byte
	Principal           []byte
	WeightedDepositDate uint64
	LastDepositAt       uint64
	Checksum            string
}

func (s *storedLender) payload() []byte {
	payload := append([]byte(nil), s.Address...)
	payload = append(payload, s.Principal...)
	payload = appendUint64(payload, s.WeightedDepositDate)
	payload = appendUint64(payload, s.LastDepositAt)
	return payload
}

// GetLenderInfo loads one lender row, or nil for an unknown lender.
func (s *Store) GetLenderInfo(lender [20]byte) (*pool.LenderInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLender(lender)
}

func (s *Store) getLender(lender [20]byte) (*pool.LenderInfo, error) {
	data, err := s.get(fmt.Sprintf(lenderKeyFormat, hex.EncodeToString(lender[:])))
	if err != nil || data == nil {
		return nil, err
	}
	var stored storedLender
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	if stored.Checksum != checksum(stored.payload()) {
		return nil, errChecksumMismatch
	}
	info := &pool.LenderInfo{
		Principal:           bigFromBytes(stored.Principal),
		WeightedDepositDate: int64(stored.WeightedDepositDate),
		LastDepositAt:       int64(stored.LastDepositAt),
	}
	copy(info.Address[:], stored.Address)
	return info, nil
}

// PutLenderInfo inserts or replaces a lender row and keeps the lender index
// in sync.
func (s *Store) PutLenderInfo(info *pool.LenderInfo) error {
	if info == nil {
		return errNilEntry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := storedLender{
		Address:             append([]byte(nil), info.Address[:]...),
		Principal:           bigBytes(info.Principal),
		WeightedDepositDate: uint64(info.WeightedDepositDate),
		LastDepositAt:       uint64(info.LastDepositAt),
	}
	stored.Checksum = checksum(stored.payload())
	if err := s.put(fmt.Sprintf(lenderKeyFormat, hex.EncodeToString(info.Address[:])), &stored); err != nil {
		return err
	}
	return s.ensureLenderIndexed(info.Address)
}

// ListLenders returns every lender row ever written, in index order.
func (s *Store) ListLenders() ([]*pool.LenderInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, err := s.loadLenderIndex()
	if err != nil {
		return nil, err
	}
	lenders := make([]*pool.LenderInfo, 0, len(index))
	for _, raw := range index {
		var addr [20]byte
		copy(addr[:], raw)
		info, err := s.getLender(addr)
		if err != nil {
			return nil, err
		}
		if info != nil {
			lenders = append(lenders, info)
		}
	}
	return lenders, nil
}

func (s *Store) ensureLenderIndexed(addr [20]byte) error {
	index, err := s.loadLenderIndex()
	if err != nil {
		return err
	}
	for _, existing := range index {
		if hex.EncodeToString(existing) == hex.EncodeToString(addr[:]) {
			return nil
		}
	}
	index = append(index, append([]byte(nil), addr[:]...))
	encoded, err := rlp.EncodeToBytes(index)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(lenderIndexKey), encoded)
}

func (s *Store) loadLenderIndex() ([][]byte, error) {
	data, err := s.get(lenderIndexKey)
	if err != nil || data == nil {
		return nil, err
	}
	var index [][]byte
	if err := rlp.DecodeBytes(data, &index); err != nil {
		return nil, err
	}
	return index, nil
}

type storedHolder struct {
	Holder           []byte
	Shares           []byte
	IncomeCorrection storedSigned
	LossCorrection   storedSigned
}

type storedSnapshot struct {
	TotalShares    []byte
	IncomePerShare []byte
	LossPerShare   []byte
	Holders        []storedHolder
}

// GetDistributionSnapshot loads the last persisted distribution ledger
// snapshot, or nil when none exists.
func (s *Store) GetDistributionSnapshot() (*distribution.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := s.get(distributionKey)
	if err != nil || data == nil {
		return nil, err
	}
	var stored storedSnapshot
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	snap := &distribution.Snapshot{
		TotalShares:    bigFromBytes(stored.TotalShares),
		IncomePerShare: bigFromBytes(stored.IncomePerShare),
		LossPerShare:   bigFromBytes(stored.LossPerShare),
	}
	for _, h := range stored.Holders {
		holder := distribution.HolderSnapshot{
			Shares:           bigFromBytes(h.Shares),
			IncomeCorrection: signedFromBytes(h.IncomeCorrection),
			LossCorrection:   signedFromBytes(h.LossCorrection),
		}
		copy(holder.Holder[:], h.Holder)
		snap.Holders = append(snap.Holders, holder)
	}
	return snap, nil
}

// PutDistributionSnapshot replaces the persisted distribution ledger
// snapshot.
func (s *Store) PutDistributionSnapshot(snap *distribution.Snapshot) error {
	if snap == nil {
		return errNilEntry
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := storedSnapshot{
		TotalShares:    bigBytes(snap.TotalShares),
		IncomePerShare: bigBytes(snap.IncomePerShare),
		LossPerShare:   bigBytes(snap.LossPerShare),
	}
	for _, h := range snap.Holders {
		stored.Holders = append(stored.Holders, storedHolder{
			Holder:           append([]byte(nil), h.Holder[:]...),
			Shares:           bigBytes(h.Shares),
			IncomeCorrection: signedBytes(h.IncomeCorrection),
			LossCorrection:   signedBytes(h.LossCorrection),
		})
	}
	return s.put(distributionKey, &stored)
}

func (s *Store) get(key string) ([]byte, error) {
	if s.db == nil {
		return nil, errNilDatabase
	}
	data, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) put(key string, entry interface{}) error {
	if s.db == nil {
		return errNilDatabase
	}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(key), encoded)
}
