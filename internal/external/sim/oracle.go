package sim

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// OracleRequest is one request recorded by the simulated oracle.
type OracleRequest struct {
	ID       uint64
	Payer    uuid.UUID
	Provider uuid.UUID
	Seed     [32]byte
	Fee      int64
}

// Responder delivers a response to the raffle that issued the request.
type Responder func(ctx context.Context, raffleID uuid.UUID, requestID uint64, provider uuid.UUID, randomValue [32]byte)

// Oracle is an in-memory randomness oracle. Fees are collected into the
// oracle's own bank account. When a responder and delay are configured,
// responses are delivered from a separate goroutine after the delay.
type Oracle struct {
	mu       sync.Mutex
	identity uuid.UUID
	bank     *Bank
	fees     map[uuid.UUID]int64
	baseFee  int64
	nextID   uint64
	requests map[uint64]OracleRequest
	failNext error

	responder Responder
	delay     time.Duration
}

func NewOracle(identity uuid.UUID, bank *Bank, baseFee int64) *Oracle {
	return &Oracle{
		identity: identity,
		bank:     bank,
		fees:     make(map[uuid.UUID]int64),
		baseFee:  baseFee,
		nextID:   1,
		requests: make(map[uint64]OracleRequest),
	}
}

func (o *Oracle) Identity() uuid.UUID {
	return o.identity
}

// SetFee overrides the fee charged for one provider.
func (o *Oracle) SetFee(provider uuid.UUID, fee int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fees[provider] = fee
}

// FailNextRequest makes the next RequestWithCallback return err.
func (o *Oracle) FailNextRequest(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failNext = err
}

// AutoRespond enables asynchronous fulfilment after delay.
func (o *Oracle) AutoRespond(responder Responder, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responder = responder
	o.delay = delay
}

func (o *Oracle) GetFee(ctx context.Context, provider uuid.UUID) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fee, ok := o.fees[provider]; ok {
		return fee, nil
	}
	return o.baseFee, nil
}

func (o *Oracle) RequestWithCallback(ctx context.Context, payer, provider uuid.UUID, seed [32]byte, fee int64) (uint64, error) {
	o.mu.Lock()
	if err := o.failNext; err != nil {
		o.failNext = nil
		o.mu.Unlock()
		return 0, err
	}
	required, ok := o.fees[provider]
	if !ok {
		required = o.baseFee
	}
	o.mu.Unlock()

	if fee < required {
		return 0, errors.Errorf("fee %d below required %d", fee, required)
	}
	if fee > 0 {
		if err := o.bank.Transfer(ctx, payer, o.identity, fee); err != nil {
			return 0, errors.Wrap(err, "collect oracle fee")
		}
	}

	o.mu.Lock()
	req := OracleRequest{ID: o.nextID, Payer: payer, Provider: provider, Seed: seed, Fee: fee}
	o.requests[req.ID] = req
	o.nextID++
	responder, delay := o.responder, o.delay
	o.mu.Unlock()

	if responder != nil {
		go func() {
			time.Sleep(delay)
			responder(context.Background(), req.Payer, req.ID, req.Provider, RandomFor(req))
		}()
	}
	return req.ID, nil
}

// Resume re-registers a request issued before a restart and, when a
// responder is configured, schedules its response. The fee was collected
// when the request was first made.
func (o *Oracle) Resume(payer uuid.UUID, requestID uint64, provider uuid.UUID) {
	req := OracleRequest{ID: requestID, Payer: payer, Provider: provider}
	h := sha3.NewLegacyKeccak256()
	h.Write(payer[:])
	copy(req.Seed[:], h.Sum(nil))

	o.mu.Lock()
	o.requests[requestID] = req
	if requestID >= o.nextID {
		o.nextID = requestID + 1
	}
	responder, delay := o.responder, o.delay
	o.mu.Unlock()

	if responder != nil {
		go func() {
			time.Sleep(delay)
			responder(context.Background(), req.Payer, req.ID, req.Provider, RandomFor(req))
		}()
	}
}

// Request returns a recorded request.
func (o *Oracle) Request(id uint64) (OracleRequest, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[id]
	return req, ok
}

// RequestCount returns how many requests were accepted.
func (o *Oracle) RequestCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

// RandomFor derives a deterministic random value from a request.
func RandomFor(req OracleRequest) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(req.Seed[:])
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], req.ID)
	h.Write(idBuf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
