package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tokenScope/internal/metrics"
)

// ConnectorConfig describes the relying party and the expected network.
type ConnectorConfig struct {
	Origin       string
	ChainID      uint64
	Statement    string
	ChallengeTTL time.Duration
	Now          func() time.Time
}

// Connector authenticates wallets by signed challenge and owns the single
// active Session.
type Connector struct {
	cfg    ConnectorConfig
	logger *zap.Logger

	slot chan struct{}

	mu      sync.RWMutex
	session *Session

	nonceMu sync.Mutex
	// nonces maps every issued nonce to the expiry of its challenge.
	nonces  map[string]time.Time
}

// NewConnector builds a connector.
func NewConnector(cfg ConnectorConfig, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Statement == "" {
		cfg.Statement = defaultStatement
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return &Connector{
		cfg:    cfg,
		logger: logger,
		slot:   make(chan struct{}, 1),
		nonces: make(map[string]time.Time),
	}
}

// Connect runs the challenge handshake against the provider and, on success,
// makes the result the active session. Connects are serialized: a second
// call waits until the first one finishes.
func (c *Connector) Connect(ctx context.Context, d Descriptor) (Session, error) {
	if d.Provider == nil {
		return Session{}, fmt.Errorf("%w: wallet %q has no provider", ErrProviderError, d.ID)
	}

	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
	defer func() { <-c.slot }()

	sess, err := c.authenticate(ctx, d)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		c.logger.Warn("wallet connect failed", zap.String("wallet", d.ID), zap.Error(err))
		return Session{}, err
	}
	metrics.AuthAttempts.WithLabelValues("ok").Inc()

	c.mu.Lock()
	prev := c.session
	c.session = &sess
	c.mu.Unlock()

	if prev != nil {
		c.logger.Info("session replaced", zap.String("previous", prev.Address), zap.String("address", sess.Address))
	}
	c.logger.Info("wallet connected",
		zap.String("wallet", d.ID),
		zap.String("address", sess.Address),
		zap.Uint64("chain_id", sess.ChainID),
	)
	return sess, nil
}

func (c *Connector) authenticate(ctx context.Context, d Descriptor) (Session, error) {
	p := d.Provider

	accounts, err := p.RequestAccounts(ctx)
	if err != nil {
		return Session{}, classifyProviderErr("request accounts", err)
	}
	if len(accounts) == 0 {
		return Session{}, fmt.Errorf("%w: no account available", ErrProviderError)
	}
	address := strings.TrimSpace(accounts[0])
	if !common.IsHexAddress(address) {
		return Session{}, fmt.Errorf("%w: invalid account %q", ErrProviderError, address)
	}

	chainID, err := c.ensureNetwork(ctx, p)
	if err != nil {
		return Session{}, err
	}

	issued := c.cfg.Now().UTC().Truncate(time.Second)
	challenge := Challenge{
		Origin:    c.cfg.Origin,
		Address:   common.HexToAddress(address).Hex(),
		ChainID:   chainID,
		Nonce:     c.nextNonce(),
		Statement: c.cfg.Statement,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(c.cfg.ChallengeTTL),
	}
	message := challenge.Message()

	signature, err := p.SignMessage(ctx, address, message)
	if err != nil {
		return Session{}, classifyProviderErr("sign message", err)
	}

	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if !strings.EqualFold(recovered.Hex(), address) {
		return Session{}, fmt.Errorf("%w: signed by %s, expected %s", ErrSignatureMismatch, recovered.Hex(), address)
	}

	return Session{
		Address:       strings.ToLower(address),
		ProviderID:    d.ID,
		ChainID:       chainID,
		EstablishedAt: c.cfg.Now().UTC(),
		Provider:      p,
	}, nil
}

// ensureNetwork asks the provider to switch when it is on another chain.
func (c *Connector) ensureNetwork(ctx context.Context, p Provider) (uint64, error) {
	current, err := p.ChainID(ctx)
	if err != nil {
		return 0, classifyProviderErr("chain id", err)
	}
	if c.cfg.ChainID == 0 || current == c.cfg.ChainID {
		return current, nil
	}

	c.logger.Info("requesting network switch", zap.Uint64("from", current), zap.Uint64("to", c.cfg.ChainID))
	if err := p.SwitchChain(ctx, c.cfg.ChainID); err != nil {
		return 0, fmt.Errorf("%w: switch to %d: %v", ErrNetworkMismatch, c.cfg.ChainID, err)
	}

	current, err = p.ChainID(ctx)
	if err != nil {
		return 0, classifyProviderErr("chain id", err)
	}
	if current != c.cfg.ChainID {
		return 0, fmt.Errorf("%w: provider on %d, expected %d", ErrNetworkMismatch, current, c.cfg.ChainID)
	}
	return current, nil
}

// nextNonce returns a nonce not handed out within the challenge lifetime.
// Entries whose challenge expired are dropped.
func (c *Connector) nextNonce() string {
	now := c.cfg.Now()
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	for nonce, expires := range c.nonces {
		if !now.Before(expires) {
			delete(c.nonces, nonce)
		}
	}
	for {
		nonce := NewNonce()
		if _, used := c.nonces[nonce]; used {
			continue
		}
		c.nonces[nonce] = now.Add(c.cfg.ChallengeTTL)
		return nonce
	}
}

// Current returns the active session, if any.
func (c *Connector) Current() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Disconnect clears the active session.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	prev := c.session
	c.session = nil
	c.mu.Unlock()
	if prev != nil {
		c.logger.Info("wallet disconnected", zap.String("address", prev.Address))
	}
}

// HandleAccountsChanged reacts to the provider reporting a new account list.
// An empty list or a different first account ends the session; the new
// account has to authenticate again.
func (c *Connector) HandleAccountsChanged(accounts []string) {
	c.mu.Lock()
	current := c.session
	if current == nil || (len(accounts) > 0 && strings.EqualFold(strings.TrimSpace(accounts[0]), current.Address)) {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.mu.Unlock()

	c.logger.Info("wallet accounts changed, session cleared", zap.String("address", current.Address), zap.Int("accounts", len(accounts)))
}

func outcomeLabel(err error) string {
	switch {
	case IsUserRejection(err):
		return "user_rejected"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, ErrNetworkMismatch):
		return "network_mismatch"
	default:
		return "provider_error"
	}
}
