// Package oraclesim provides a loopback decryption oracle. It
// implements the controller's Transport, runs a pluggable decrypt
// function on a worker pool, signs an attestation over the result,
// and delivers it back through the controller's callback entry point.
//
// It stands in for the external confidential-compute oracle in the
// daemon's single-node mode and in end-to-end tests. A synchronous
// mode holds deliveries until Flush, which lets tests interleave
// submissions and callbacks deterministically.
package oraclesim

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/i5heu/ouroboros-crypt/pkg/keys"

	"github.com/i5heu/ouroboros-oracle/pkg/proof"
	"github.com/i5heu/ouroboros-oracle/pkg/types"
	workerpool "github.com/i5heu/ouroboros-oracle/pkg/workerPool"
)

// CallbackTarget is the inbound callback entry point the oracle
// delivers results to. *controller.Controller satisfies it.
type CallbackTarget interface {
	OnDecrypted(
		ctx context.Context,
		requestID types.RequestID,
		cleartext []byte,
		proof []byte,
	) error
}

// DecryptFunc turns ciphertext handles into cleartext bytes.
type DecryptFunc func(
	handles []types.Ciphertext,
) ([]byte, error)

// Config configures the simulated oracle.
type Config struct {
	// Signer signs attestations. Generated if nil.
	Signer *keys.AsyncCrypt
	// Decrypt produces the cleartext. Defaults to base64-decoding the
	// first handle, falling back to its raw bytes.
	Decrypt DecryptFunc
	// Synchronous holds deliveries until Flush is called.
	Synchronous bool
	// Logger is an optional structured logger.
	Logger *slog.Logger
}

// Oracle is a loopback decryption oracle.
type Oracle struct {
	log     *slog.Logger
	signer  *keys.AsyncCrypt
	keyID   proof.KeyHash
	decrypt DecryptFunc
	pool    *workerpool.WorkerPool
	sync    bool

	mu      sync.Mutex
	target  CallbackTarget
	pending []func()
}

// New creates an Oracle. SetTarget must be called before the first
// request is issued.
func New(cfg Config) (*Oracle, error) {
	if cfg.Signer == nil {
		signer, err := keys.NewAsyncCrypt()
		if err != nil {
			return nil, fmt.Errorf(
				"generate oracle keys: %w", err,
			)
		}
		cfg.Signer = signer
	}
	if cfg.Decrypt == nil {
		cfg.Decrypt = defaultDecrypt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pub := cfg.Signer.GetPublicKey()
	keyID, err := proof.ComputeKeyHash(&pub)
	if err != nil {
		return nil, fmt.Errorf(
			"derive oracle key id: %w", err,
		)
	}

	return &Oracle{
		log:     cfg.Logger,
		signer:  cfg.Signer,
		keyID:   keyID,
		decrypt: cfg.Decrypt,
		pool:    workerpool.NewWorkerPool(workerpool.Config{}),
		sync:    cfg.Synchronous,
	}, nil
}

// defaultDecrypt mirrors the placeholder scheme of the surrounding
// application: handles are base64 text of the plaintext. The
// controller itself never interprets handles; only the oracle does.
func defaultDecrypt(
	handles []types.Ciphertext,
) ([]byte, error) {
	if len(handles) == 0 {
		return nil, errors.New("no handles to decrypt")
	}
	decoded, err := base64.StdEncoding.DecodeString(
		string(handles[0]),
	)
	if err != nil {
		return []byte(handles[0]), nil
	}
	return decoded, nil
}

// PublicKey returns the oracle's signing public key, to be registered
// with the proof verifier.
func (o *Oracle) PublicKey() keys.PublicKey {
	return o.signer.GetPublicKey()
}

// SetTarget wires the callback entry point results are delivered to.
func (o *Oracle) SetTarget(target CallbackTarget) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.target = target
}

// IssueRequest registers a decryption job and returns a fresh request
// id. The job runs asynchronously on the pool, or waits for Flush in
// synchronous mode.
func (o *Oracle) IssueRequest(
	_ context.Context,
	batchID types.BatchID,
	handles []types.Ciphertext,
) (types.RequestID, error) {
	requestID, err := types.NewRequestID()
	if err != nil {
		return types.RequestID{}, err
	}

	cloned := make([]types.Ciphertext, len(handles))
	for i, h := range handles {
		cloned[i] = h.Clone()
	}

	job := func() {
		o.deliver(requestID, batchID, cloned)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sync {
		o.pending = append(o.pending, job)
		return requestID, nil
	}
	if err := o.pool.Submit(job); err != nil {
		return types.RequestID{}, fmt.Errorf(
			"dispatch decryption job: %w", err,
		)
	}
	return requestID, nil
}

// Flush delivers all held callbacks in issue order. Only meaningful
// in synchronous mode.
func (o *Oracle) Flush() {
	o.mu.Lock()
	jobs := o.pending
	o.pending = nil
	o.mu.Unlock()

	for _, job := range jobs {
		job()
	}
}

func (o *Oracle) deliver(
	requestID types.RequestID,
	batchID types.BatchID,
	handles []types.Ciphertext,
) {
	o.mu.Lock()
	target := o.target
	o.mu.Unlock()
	if target == nil {
		o.log.Error("oracle has no callback target",
			"requestId", requestID.String())
		return
	}

	cleartext, err := o.decrypt(handles)
	if err != nil {
		o.log.Error("decrypt failed",
			"requestId", requestID.String(),
			"error", err)
		return
	}

	att, err := proof.NewAttestation(proof.AttestationParams{
		RequestID: requestID,
		BatchID:   batchID,
		Cleartext: cleartext,
		KeyID:     o.keyID,
		IssuedAt:  time.Now().UTC(),
	})
	if err != nil {
		o.log.Error("build attestation failed",
			"requestId", requestID.String(),
			"error", err)
		return
	}

	sig, err := proof.SignAttestation(o.signer, att)
	if err != nil {
		o.log.Error("sign attestation failed",
			"requestId", requestID.String(),
			"error", err)
		return
	}

	proofBytes, err := proof.MarshalEnvelope(&proof.Envelope{
		Attestation: att,
		Signature:   sig,
	})
	if err != nil {
		o.log.Error("marshal proof failed",
			"requestId", requestID.String(),
			"error", err)
		return
	}

	if err := target.OnDecrypted(
		context.Background(), requestID, cleartext, proofBytes,
	); err != nil {
		o.log.Warn("callback rejected",
			"requestId", requestID.String(),
			"error", err)
	}
}

// Close stops the worker pool after queued jobs finish.
func (o *Oracle) Close() {
	o.pool.Close()
}
