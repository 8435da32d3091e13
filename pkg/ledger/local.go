package ledger

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/suffix-labs/zkpay/pkg/calldata"
	"github.com/suffix-labs/zkpay/pkg/field"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"go.uber.org/zap"
)

// Key layout:
//
//	meta:height               -> uint64
//	meta:nonce                -> uint64
//	tx:<hash>                 -> Receipt JSON
//	deposit:<commitment>      -> Deposit JSON
//	nullifier:<nullifier>     -> height spent (uint64)
//	payout:<nullifier>        -> Payout JSON
const (
	keyHeight          = "meta:height"
	keyNonce           = "meta:nonce"
	prefixTx           = "tx:"
	prefixDeposit      = "deposit:"
	prefixNullifier    = "nullifier:"
	prefixPayout       = "payout:"
	publicInputsLength = 4
)

// ProofVerifier checks a proof against a verifying key and decimal public
// inputs (recipient, amount, commitment, nullifier hash).
type ProofVerifier func(vk, proof []byte, publicInputs []string) error

// LocalConfig configures a LocalLedger.
type LocalConfig struct {
	Path            string        // LevelDB directory; empty keeps state in memory
	VerifierAddress string        // address of the verifier contract
	PaymentAddress  string        // address of the payment contract
	VerifyingKey    []byte        // verifying key the verifier contract accepts
	Verify          ProofVerifier // proof check used by both contracts
	Account         *PrivateKey   // account that signs submitted calls
	BlockTime       time.Duration // delay between submission and execution
}

// Deposit is a stored deposit.
type Deposit struct {
	Commitment string `json:"commitment"`
	Amount     string `json:"amount"` // smallest units, decimal
	Depositor  string `json:"depositor"`
	Height     uint64 `json:"height"`
	Withdrawn  bool   `json:"withdrawn"`
}

// Payout records a successful withdrawal.
type Payout struct {
	Commitment  string `json:"commitment"`
	RecipientID string `json:"recipientId"`
	Amount      string `json:"amount"`
	Height      uint64 `json:"height"`
}

// LocalLedger executes calls against the verifier and payment contracts in
// process. Submitted transactions execute in submission order after
// BlockTime.
type LocalLedger struct {
	cfg      LocalConfig
	db       *leveldb.DB
	vkDigest string
	logger   *zap.Logger

	// exec serializes state transitions.
	exec sync.Mutex

	mu      sync.Mutex
	pending map[string]chan struct{}
	queue   chan *Transaction
	closed  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// OpenLocal opens (or creates) a local ledger.
func OpenLocal(cfg LocalConfig, logger *zap.Logger) (*LocalLedger, error) {
	if cfg.Account == nil {
		return nil, errors.New("ledger: account key required")
	}
	if cfg.Verify == nil {
		return nil, errors.New("ledger: proof verifier required")
	}
	if cfg.VerifierAddress == "" || cfg.PaymentAddress == "" {
		return nil, errors.New("ledger: contract addresses required")
	}
	digest, err := calldata.VKDigest(cfg.VerifyingKey)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *leveldb.DB
	if cfg.Path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(cfg.Path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to open state: %w", err)
	}

	l := &LocalLedger{
		cfg:      cfg,
		db:       db,
		vkDigest: digest,
		logger:   logger,
		pending:  make(map[string]chan struct{}),
		queue:    make(chan *Transaction, 64),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Close stops execution and closes the database. Transactions still queued
// stay pending.
func (l *LocalLedger) Close() error {
	l.once.Do(func() {
		close(l.closed)
		<-l.done
	})
	return l.db.Close()
}

// Submit signs call with the configured account and queues it.
func (l *LocalLedger) Submit(ctx context.Context, call Call) (TxHandle, error) {
	if call.Contract != l.cfg.VerifierAddress && call.Contract != l.cfg.PaymentAddress {
		return TxHandle{}, fmt.Errorf("ledger: no contract at %s", call.Contract)
	}

	l.mu.Lock()
	select {
	case <-l.closed:
		l.mu.Unlock()
		return TxHandle{}, ErrClosed
	default:
	}
	nonce, err := l.nextNonce()
	if err != nil {
		l.mu.Unlock()
		return TxHandle{}, err
	}
	tx := &Transaction{Nonce: nonce, Call: call}
	tx.Sign(l.cfg.Account)
	id := tx.TxID()
	hash := "0x" + hex.EncodeToString(id[:])

	if err := l.putReceipt(&Receipt{Hash: hash, Status: StatusPending}); err != nil {
		l.mu.Unlock()
		return TxHandle{}, err
	}
	l.pending[hash] = make(chan struct{})
	l.mu.Unlock()

	select {
	case l.queue <- tx:
	case <-ctx.Done():
		l.finish(hash, &Receipt{Hash: hash, Status: StatusRejected, Reason: "submission cancelled"})
		return TxHandle{}, ctx.Err()
	case <-l.closed:
		return TxHandle{}, ErrClosed
	}

	l.logger.Debug("transaction submitted",
		zap.String("hash", hash),
		zap.String("function", call.Function),
		zap.Uint64("nonce", nonce),
	)
	return TxHandle{Hash: hash}, nil
}

// AwaitConfirmation blocks until h is executed or ctx is done.
func (l *LocalLedger) AwaitConfirmation(ctx context.Context, h TxHandle) (*Receipt, error) {
	l.mu.Lock()
	wait, ok := l.pending[h.Hash]
	l.mu.Unlock()

	if ok {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.closed:
			return nil, ErrClosed
		}
	}

	r, err := l.Receipt(h.Hash)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusPending {
		return nil, ErrClosed
	}
	return r, nil
}

// Receipt returns the stored receipt for hash.
func (l *LocalLedger) Receipt(hash string) (*Receipt, error) {
	data, err := l.db.Get([]byte(prefixTx+hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, hash)
	}
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("corrupt receipt %s: %w", hash, err)
	}
	return &r, nil
}

// Deposit returns the deposit stored under commitment, or nil.
func (l *LocalLedger) Deposit(commitment string) (*Deposit, error) {
	key, err := canonical(commitment)
	if err != nil {
		return nil, err
	}
	var d Deposit
	found, err := l.getJSON(prefixDeposit+key, &d)
	if err != nil || !found {
		return nil, err
	}
	return &d, nil
}

// NullifierSpent reports whether nullifier has been revealed by a withdrawal.
func (l *LocalLedger) NullifierSpent(nullifier string) (bool, error) {
	key, err := canonical(nullifier)
	if err != nil {
		return false, err
	}
	return l.db.Has([]byte(prefixNullifier+key), nil)
}

// Height returns the number of executed transactions.
func (l *LocalLedger) Height() (uint64, error) {
	return l.getUint(keyHeight)
}

func (l *LocalLedger) run() {
	defer close(l.done)
	for {
		select {
		case <-l.closed:
			return
		case tx := <-l.queue:
			if l.cfg.BlockTime > 0 {
				timer := time.NewTimer(l.cfg.BlockTime)
				select {
				case <-timer.C:
				case <-l.closed:
					timer.Stop()
					return
				}
			}
			l.execute(tx)
		}
	}
}

func (l *LocalLedger) execute(tx *Transaction) {
	l.exec.Lock()
	defer l.exec.Unlock()

	id := tx.TxID()
	hash := "0x" + hex.EncodeToString(id[:])

	height, err := l.getUint(keyHeight)
	if err != nil {
		l.finish(hash, &Receipt{Hash: hash, Status: StatusRejected, Reason: err.Error()})
		return
	}
	height++

	batch := new(leveldb.Batch)
	var execErr error
	switch {
	case !tx.VerifySignature():
		execErr = errors.New("invalid signature")
	case tx.Call.Contract == l.cfg.VerifierAddress && tx.Call.Function == FnVerify:
		_, execErr = l.verify(tx.Call.Args)
	case tx.Call.Contract == l.cfg.PaymentAddress && tx.Call.Function == FnDeposit:
		execErr = l.deposit(batch, tx, height)
	case tx.Call.Contract == l.cfg.PaymentAddress && tx.Call.Function == FnWithdraw:
		execErr = l.withdraw(batch, tx.Call.Args, height)
	default:
		execErr = fmt.Errorf("unknown entry point %s", tx.Call.Function)
	}

	receipt := &Receipt{Hash: hash, Status: StatusConfirmed, Height: height}
	if execErr != nil {
		receipt.Status = StatusRejected
		receipt.Reason = execErr.Error()
		batch.Reset()
		l.logger.Info("transaction rejected",
			zap.String("hash", hash),
			zap.String("function", tx.Call.Function),
			zap.String("reason", receipt.Reason),
		)
	} else {
		l.logger.Info("transaction confirmed",
			zap.String("hash", hash),
			zap.String("function", tx.Call.Function),
			zap.Uint64("height", height),
		)
	}

	putUint(batch, keyHeight, height)
	data, _ := json.Marshal(receipt)
	batch.Put([]byte(prefixTx+hash), data)
	if err := l.db.Write(batch, nil); err != nil {
		l.logger.Error("failed to persist transaction", zap.String("hash", hash), zap.Error(err))
	}
	l.release(hash)
}

// verify checks calldata against the verifier contract's key and returns
// the decoded public inputs.
func (l *LocalLedger) verify(args []string) ([]string, error) {
	dec, err := calldata.Parse(args)
	if err != nil {
		return nil, err
	}
	if dec.VKDigest != l.vkDigest {
		return nil, errors.New("verifying key mismatch")
	}
	if len(dec.PublicInputs) != publicInputsLength {
		return nil, fmt.Errorf("expected %d public inputs, got %d", publicInputsLength, len(dec.PublicInputs))
	}
	if err := l.cfg.Verify(l.cfg.VerifyingKey, dec.Proof, dec.PublicInputs); err != nil {
		return nil, fmt.Errorf("invalid proof: %w", err)
	}
	return dec.PublicInputs, nil
}

func (l *LocalLedger) deposit(batch *leveldb.Batch, tx *Transaction, height uint64) error {
	args := tx.Call.Args
	if len(args) != 3 {
		return fmt.Errorf("deposit expects 3 arguments, got %d", len(args))
	}
	commitment, err := canonical(args[0])
	if err != nil {
		return err
	}
	amount, err := u256(args[1], args[2])
	if err != nil {
		return err
	}

	exists, err := l.db.Has([]byte(prefixDeposit+commitment), nil)
	if err != nil {
		return err
	}
	if exists {
		return errors.New("commitment already exists")
	}

	data, _ := json.Marshal(&Deposit{
		Commitment: commitment,
		Amount:     amount.String(),
		Depositor:  tx.Sender,
		Height:     height,
	})
	batch.Put([]byte(prefixDeposit+commitment), data)
	return nil
}

func (l *LocalLedger) withdraw(batch *leveldb.Batch, args []string, height uint64) error {
	if len(args) < 3 {
		return fmt.Errorf("withdraw expects at least 3 arguments, got %d", len(args))
	}
	commitment, err := canonical(args[0])
	if err != nil {
		return err
	}
	nullifier, err := canonical(args[1])
	if err != nil {
		return err
	}

	var d Deposit
	found, err := l.getJSON(prefixDeposit+commitment, &d)
	if err != nil {
		return err
	}
	if !found {
		return errors.New("unknown commitment")
	}
	if d.Withdrawn {
		return errors.New("commitment already withdrawn")
	}
	spent, err := l.db.Has([]byte(prefixNullifier+nullifier), nil)
	if err != nil {
		return err
	}
	if spent {
		return errors.New("nullifier already spent")
	}

	inputs, err := l.verify(args[2:])
	if err != nil {
		return err
	}
	if c, _ := field.ReduceToLedgerField(inputs[2]); c != commitment {
		return errors.New("proof does not match commitment")
	}
	if n, _ := field.ReduceToLedgerField(inputs[3]); n != nullifier {
		return errors.New("proof does not match nullifier")
	}
	if inputs[1] != d.Amount {
		return errors.New("proof does not match deposited amount")
	}

	d.Withdrawn = true
	deposit, _ := json.Marshal(&d)
	payout, _ := json.Marshal(&Payout{
		Commitment:  commitment,
		RecipientID: inputs[0],
		Amount:      d.Amount,
		Height:      height,
	})
	batch.Put([]byte(prefixDeposit+commitment), deposit)
	batch.Put([]byte(prefixPayout+nullifier), payout)
	putUint(batch, prefixNullifier+nullifier, height)
	return nil
}

// finish stores a terminal receipt outside of execution.
func (l *LocalLedger) finish(hash string, r *Receipt) {
	if err := l.putReceipt(r); err != nil {
		l.logger.Error("failed to persist receipt", zap.String("hash", hash), zap.Error(err))
	}
	l.release(hash)
}

func (l *LocalLedger) release(hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.pending[hash]; ok {
		close(ch)
		delete(l.pending, hash)
	}
}

func (l *LocalLedger) putReceipt(r *Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return l.db.Put([]byte(prefixTx+r.Hash), data, nil)
}

// nextNonce must be called with l.mu held.
func (l *LocalLedger) nextNonce() (uint64, error) {
	n, err := l.getUint(keyNonce)
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n+1)
	if err := l.db.Put([]byte(keyNonce), buf[:], nil); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *LocalLedger) getUint(key string) (uint64, error) {
	data, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt value at %s", key)
	}
	return binary.BigEndian.Uint64(data), nil
}

func (l *LocalLedger) getJSON(key string, v any) (bool, error) {
	data, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("corrupt value at %s: %w", key, err)
	}
	return true, nil
}

func putUint(batch *leveldb.Batch, key string, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	batch.Put([]byte(key), buf[:])
}

// canonical validates a ledger field element and returns its 0x form.
func canonical(v string) (string, error) {
	n, err := field.ParseFieldValue(v)
	if err != nil {
		return "", err
	}
	if n.Cmp(field.LedgerModulus) >= 0 {
		return "", fmt.Errorf("value %s is not reduced", v)
	}
	return field.FormatLedger(n), nil
}

// u256 joins 128-bit limbs.
func u256(low, high string) (*big.Int, error) {
	lo, err := field.ParseFieldValue(low)
	if err != nil {
		return nil, err
	}
	hi, err := field.ParseFieldValue(high)
	if err != nil {
		return nil, err
	}
	if lo.BitLen() > 128 || hi.BitLen() > 128 {
		return nil, errors.New("amount limb exceeds 128 bits")
	}
	v := new(big.Int).Lsh(hi, 128)
	return v.Or(v, lo), nil
}

// SplitU256 splits a decimal amount into (low, high) 128-bit limbs in 0x
// form, the layout deposit expects.
func SplitU256(amount string) (low, high string, err error) {
	v, err := field.ParseFieldValue(amount)
	if err != nil {
		return "", "", err
	}
	if v.BitLen() > 256 {
		return "", "", errors.New("amount exceeds 256 bits")
	}
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	return field.FormatLedger(new(big.Int).And(v, mask)), field.FormatLedger(new(big.Int).Rsh(v, 128)), nil
}
