// Package callout implements the NATS auth callout that turns a deployment
// credential into a user JWT scoped to a single chat thread.
package callout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/jwt/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/airtai/fastagency-sub000/pkg/credentials"
	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
	"github.com/airtai/fastagency-sub000/pkg/observability"
)

const (
	// AuthRequestSubject is where the server sends authorization requests.
	AuthRequestSubject = "$SYS.REQ.USER.AUTH"
	// ServerXKeyHeader carries the server's curve key when requests are encrypted.
	ServerXKeyHeader = "Nats-Server-Xkey"

	resultGranted = "granted"
	resultDenied  = "denied"
	resultDropped = "dropped"
)

// Verifier checks a deployment secret. Satisfied by *credentials.Store.
type Verifier interface {
	Verify(ctx context.Context, deploymentID, secret string) (*credentials.Record, error)
}

// Config controls what the callout grants.
type Config struct {
	Account string        // audience of issued user JWTs
	Stream  string        // stream whose management API is granted
	UserTTL time.Duration // lifetime of issued user JWTs; zero means no expiry
	Queue   string        // queue group shared by callout replicas
}

// Service answers authorization requests.
type Service struct {
	cfg      Config
	issuer   nkeys.KeyPair
	xkey     nkeys.KeyPair
	verifier Verifier
	logger   *observability.Logger
	now      func() time.Time
}

// NewService creates a callout service. xkey may be nil when the server does
// not encrypt callout traffic.
func NewService(cfg Config, issuer, xkey nkeys.KeyPair, verifier Verifier, logger *observability.Logger) (*Service, error) {
	if issuer == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "callout issuer key is required")
	}
	if verifier == nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "callout verifier is required")
	}
	if cfg.Account == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid, "callout account is required")
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Service{
		cfg:      cfg,
		issuer:   issuer,
		xkey:     xkey,
		verifier: verifier,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// exchange is one request/response pair.
type exchange struct {
	userNkey   string
	serverID   string
	credential Credential
	allowed    []string
	userJWT    string
	denial     string
}

// Handle processes one raw authorization request and returns the response
// payload. A nil result means no response should be sent.
func (s *Service) Handle(ctx context.Context, data []byte, serverXKey string) []byte {
	start := s.now()
	defer func() { observability.AuthLatency.Observe(time.Since(start).Seconds()) }()

	ctx, span := observability.StartSpan(ctx, "callout.authorize")
	defer span.End()

	if serverXKey != "" {
		if s.xkey == nil {
			s.logger.Warn("encrypted authorization request but no xkey configured")
			observability.AuthRequests.WithLabelValues(resultDropped).Inc()
			return nil
		}
		plain, err := s.xkey.Open(data, serverXKey)
		if err != nil {
			s.logger.Warn("failed to decrypt authorization request", "error", err)
			observability.AuthRequests.WithLabelValues(resultDropped).Inc()
			return nil
		}
		data = plain
	}

	req, err := jwt.DecodeAuthorizationRequestClaims(string(data))
	if err != nil {
		// Without a user nkey and server id there is nothing to address a denial to.
		s.logger.Warn("failed to decode authorization request", "error", err)
		observability.AuthRequests.WithLabelValues(resultDropped).Inc()
		return nil
	}

	ex := &exchange{userNkey: req.UserNkey, serverID: req.Server.ID}
	span.SetAttributes(observability.AttrServerID.String(ex.serverID))
	s.authorize(ctx, ex, req.ConnectOptions.Token)

	span.SetAttributes(
		observability.AttrDeploymentID.String(ex.credential.DeploymentID),
		observability.AttrThreadID.String(ex.credential.ThreadID),
	)
	s.logger.WithContext(ctx).AuthDecision(ex.credential.DeploymentID, ex.credential.ThreadID, ex.serverID, ex.denial == "", ex.denial)

	out, err := s.respond(ex, serverXKey)
	if err != nil {
		s.logger.Error("failed to encode authorization response", "error", err, "server_id", ex.serverID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode response")
		observability.AuthRequests.WithLabelValues(resultDropped).Inc()
		return nil
	}

	if ex.denial != "" {
		span.SetAttributes(attribute.String("callout.denial", ex.denial))
		observability.AuthRequests.WithLabelValues(resultDenied).Inc()
	} else {
		observability.AuthRequests.WithLabelValues(resultGranted).Inc()
	}
	return out
}

// authorize fills either ex.userJWT or ex.denial.
func (s *Service) authorize(ctx context.Context, ex *exchange, token string) {
	cred, err := ParseCredential(token)
	if err != nil {
		ex.denial = "invalid auth_token: " + err.Error()
		return
	}
	ex.credential = cred

	rec, err := s.verifier.Verify(ctx, cred.DeploymentID, cred.Secret)
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		ex.denial = fmt.Sprintf("deployment %q not found", cred.DeploymentID)
		return
	case errors.Is(err, credentials.ErrInvalidCredentials):
		ex.denial = "invalid credentials"
		return
	case err != nil:
		s.logger.WithDeployment(cred.DeploymentID).Error("credential lookup failed", "error", err)
		ex.denial = "credential lookup failed"
		return
	}

	allowed, err := Permissions(rec.UserID, cred.DeploymentID, cred.ThreadID, s.cfg.Stream)
	if err != nil {
		ex.denial = "invalid subject parameters: " + err.Error()
		return
	}
	ex.allowed = allowed

	userJWT, err := s.issueUser(ex)
	if err != nil {
		s.logger.WithDeployment(cred.DeploymentID).Error("failed to issue user jwt", "error", err)
		ex.denial = "failed to issue credentials"
		return
	}
	ex.userJWT = userJWT
}

func (s *Service) issueUser(ex *exchange) (string, error) {
	uc := jwt.NewUserClaims(ex.userNkey)
	uc.Name = ex.credential.DeploymentID
	uc.Audience = s.cfg.Account
	uc.Pub.Allow.Add(ex.allowed...)
	uc.Sub.Allow.Add(ex.allowed...)
	if s.cfg.UserTTL > 0 {
		uc.Expires = s.now().Add(s.cfg.UserTTL).Unix()
	}

	vr := jwt.CreateValidationResults()
	uc.Validate(vr)
	if errs := vr.Errors(); len(errs) > 0 {
		return "", fmt.Errorf("invalid user claims: %w", errs[0])
	}
	return uc.Encode(s.issuer)
}

func (s *Service) respond(ex *exchange, serverXKey string) ([]byte, error) {
	rc := jwt.NewAuthorizationResponseClaims(ex.userNkey)
	rc.Audience = ex.serverID
	if ex.denial != "" {
		rc.Error = ex.denial
	} else {
		rc.Jwt = ex.userJWT
	}

	token, err := rc.Encode(s.issuer)
	if err != nil {
		return nil, err
	}
	if serverXKey == "" {
		return []byte(token), nil
	}
	return s.xkey.Seal([]byte(token), serverXKey)
}

// Start subscribes the service to the authorization subject.
func (s *Service) Start(ctx context.Context, nc *nats.Conn) (*nats.Subscription, error) {
	queue := s.cfg.Queue
	if queue == "" {
		queue = "chatrelay-callout"
	}
	sub, err := nc.QueueSubscribe(AuthRequestSubject, queue, func(msg *nats.Msg) {
		resp := s.Handle(ctx, msg.Data, msg.Header.Get(ServerXKeyHeader))
		if resp == nil {
			return
		}
		if err := msg.Respond(resp); err != nil {
			s.logger.Warn("failed to send authorization response", "error", err)
		}
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeBrokerSubscribe, "subscribe auth callout").
			WithContext("subject", AuthRequestSubject)
	}
	s.logger.Info("auth callout listening", "subject", AuthRequestSubject, "queue", queue, "encrypted", s.xkey != nil)
	return sub, nil
}

// Run serves requests until ctx is done, then drains the subscription.
func (s *Service) Run(ctx context.Context, nc *nats.Conn) error {
	sub, err := s.Start(ctx, nc)
	if err != nil {
		return err
	}
	<-ctx.Done()
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}
