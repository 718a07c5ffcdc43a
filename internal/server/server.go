// internal/server/server.go
package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orvull/sparkcards/internal/auth"
	"github.com/orvull/sparkcards/internal/config"
	"github.com/orvull/sparkcards/internal/log"
	"github.com/orvull/sparkcards/internal/models"
	"github.com/orvull/sparkcards/internal/naming"
	"github.com/orvull/sparkcards/internal/stamps"
)

// Service issues passes and awards stamps. It holds no pass state of its
// own: every read goes to the wallet provider and may be stale as soon as
// it returns.
type Service struct {
	cfg     config.Config
	objects Objects
	signer  auth.Signer
	metrics *Metrics
	now     func() time.Time
	log     *logrus.Entry
}

// Objects is the pass object lifecycle the service needs.
// wallet.Client and storage.Memory both satisfy it.
type Objects interface {
	Create(ctx context.Context, id, classID string, fields models.PassFields) (models.CreateOutcome, error)
	Get(ctx context.Context, id string) (*models.PassObject, error)
	Patch(ctx context.Context, id string, fields models.PassFields) (*models.PassObject, error)
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics records issue and award counters.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New constructs the service.
func New(cfg config.Config, objects Objects, signer auth.Signer, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		objects: objects,
		signer:  signer,
		now:     time.Now,
		log:     log.Module("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ---------- Issue ----------

// IssueRequest carries the /issue inputs. Empty strings and nil pointers
// fall back to the configured values.
type IssueRequest struct {
	Name         string
	StampN       *int
	Total        *int
	BusinessName string
	ImageBase    string
	ClassID      string
	ObjectID     string
}

type IssueResult struct {
	ObjectID  string
	ClassID   string
	SaveURL   string
	StampN    int
	Total     int
	HeroImage string
	Outcome   models.CreateOutcome
}

// Issue creates the pass object, or converges an existing one to the
// requested fields, and returns a save-to-wallet link for it. An existing
// card keeps its stamp progress unless StampN is set.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &models.ValidationError{Field: "name", Reason: "is required"}
	}
	total, err := s.total(req.Total)
	if err != nil {
		return nil, err
	}
	stampN := 0
	if req.StampN != nil {
		stampN = *req.StampN
		if stampN < 0 || stampN > total {
			return nil, &models.ValidationError{Field: "stamp_n", Reason: fmt.Sprintf("must be between 0 and %d", total)}
		}
	}

	classID := s.cfg.ClassID
	if req.ClassID != "" {
		classID = naming.NormalizeClassID(s.cfg.IssuerID, req.ClassID)
	}
	objectID := naming.NormalizeObjectID(s.cfg.IssuerID, s.cfg.ObjectPrefix, req.ObjectID)
	if objectID == "" {
		objectID = naming.NewObjectID(s.cfg.IssuerID, s.cfg.ObjectPrefix, name, s.now())
	}

	fields := models.PassFields{
		Title:      firstNonEmpty(req.BusinessName, s.cfg.BusinessName),
		Header:     firstNonEmpty(s.cfg.CardHeader, name),
		Subheader:  name,
		Background: s.cfg.BackgroundHex,
		State:      models.StateActive,
	}
	full := fields
	full.HeroImageURI = stamps.ImageURI(firstNonEmpty(req.ImageBase, s.cfg.ImageBase), stampN)
	full.Modules = stamps.Modules(stampN, total, s.cfg.RewardText)

	outcome, err := s.objects.Create(ctx, objectID, classID, full)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", objectID, err)
	}
	hero := full.HeroImageURI
	if outcome == models.AlreadyExists {
		// progress on an existing card only moves when the caller names it
		patch := fields
		if req.StampN != nil {
			patch = full
		}
		obj, err := s.objects.Patch(ctx, objectID, patch)
		if err != nil {
			return nil, fmt.Errorf("update existing %s: %w", objectID, err)
		}
		if req.StampN == nil {
			stampN = stamps.Clamp(stamps.Progress(obj.Modules), total)
			hero = obj.HeroImageURI
		}
	}

	saveURL, err := s.saveURL(ctx, models.ObjectRef{ID: objectID, ClassID: classID, State: models.StateActive})
	if err != nil {
		return nil, err
	}

	s.metrics.passIssued(outcome)
	s.log.WithFields(logrus.Fields{
		log.FieldObjectID: objectID,
		log.FieldClassID:  classID,
		"outcome":         outcome.String(),
	}).Info("Pass issued")

	return &IssueResult{
		ObjectID:  objectID,
		ClassID:   classID,
		SaveURL:   saveURL,
		StampN:    stampN,
		Total:     total,
		HeroImage: hero,
		Outcome:   outcome,
	}, nil
}

// ---------- Award stamp ----------

type AwardRequest struct {
	ObjectID  string
	Total     *int
	ImageBase string
}

type AwardResult struct {
	ObjectID  string
	Previous  int
	New       int
	Total     int
	HeroImage string
}

// Saturated reports whether the card was already full before this award.
func (r AwardResult) Saturated() bool { return r.Previous >= r.Total }

// AwardStamp adds one stamp, capped at total. The read-modify-write is not
// atomic: two concurrent awards on the same card may count once.
func (s *Service) AwardStamp(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	id := naming.NormalizeObjectID(s.cfg.IssuerID, s.cfg.ObjectPrefix, req.ObjectID)
	if id == "" {
		return nil, &models.ValidationError{Field: "object_id", Reason: "is required"}
	}
	total, err := s.total(req.Total)
	if err != nil {
		return nil, err
	}

	obj, err := s.objects.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	previous := stamps.Progress(obj.Modules)
	next := stamps.Next(previous, total)
	hero := stamps.ImageURI(firstNonEmpty(req.ImageBase, s.cfg.ImageBase), next)

	// patched even when already saturated
	if _, err := s.objects.Patch(ctx, id, models.PassFields{
		HeroImageURI: hero,
		Modules:      stamps.WithProgress(obj.Modules, next, total),
	}); err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}

	res := &AwardResult{ObjectID: id, Previous: previous, New: next, Total: total, HeroImage: hero}
	s.metrics.stampAwarded(res.Saturated())
	s.log.WithFields(logrus.Fields{
		log.FieldObjectID: id,
		"previous":        previous,
		"new":             next,
	}).Info("Stamp awarded")
	return res, nil
}

// ---------- Read-only ----------

type ProgressResult struct {
	ObjectID string
	ClassID  string
	Name     string
	StampN   int
	Total    int
}

// Progress reports the stamp count currently shown on a card.
func (s *Service) Progress(ctx context.Context, objectID string) (*ProgressResult, error) {
	id := naming.NormalizeObjectID(s.cfg.IssuerID, s.cfg.ObjectPrefix, objectID)
	if id == "" {
		return nil, &models.ValidationError{Field: "object_id", Reason: "is required"}
	}
	obj, err := s.objects.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	return &ProgressResult{
		ObjectID: id,
		ClassID:  obj.ClassID,
		Name:     obj.Subheader,
		StampN:   stamps.Clamp(stamps.Progress(obj.Modules), s.cfg.TotalStamps),
		Total:    s.cfg.TotalStamps,
	}, nil
}

// SaveURL signs a fresh save link for an existing object without changing it.
func (s *Service) SaveURL(ctx context.Context, objectID string) (string, string, error) {
	id := naming.NormalizeObjectID(s.cfg.IssuerID, s.cfg.ObjectPrefix, objectID)
	if id == "" {
		return "", "", &models.ValidationError{Field: "object_id", Reason: "is required"}
	}
	obj, err := s.objects.Get(ctx, id)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", id, err)
	}
	url, err := s.saveURL(ctx, models.ObjectRef{ID: id, ClassID: obj.ClassID, State: models.StateActive})
	return id, url, err
}

// ---------- helpers ----------

func (s *Service) saveURL(ctx context.Context, refs ...models.ObjectRef) (string, error) {
	claims := auth.NewSaveClaims(s.signer.Email(), s.cfg.Kind(), refs, s.now(), s.cfg.SaveLinkTTL)
	signed, err := s.signer.Sign(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("save link: %w", err)
	}
	return auth.SaveURL(s.cfg.SaveURLBase, signed), nil
}

func (s *Service) total(override *int) (int, error) {
	if override == nil {
		return s.cfg.TotalStamps, nil
	}
	if *override <= 0 {
		return 0, &models.ValidationError{Field: "total", Reason: "must be positive"}
	}
	return *override, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
