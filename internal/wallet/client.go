// Package wallet manages pass objects through the Google Wallet Objects API.
package wallet

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/walletobjects/v1"

	"github.com/orvull/sparkcards/internal/log"
	"github.com/orvull/sparkcards/internal/models"
)

const language = "en-US"

// Client creates, reads and patches generic or loyalty objects.
// It never retries: a failed call is returned to the caller as is.
type Client struct {
	svc     *walletobjects.Service
	kind    models.ObjectKind
	timeout time.Duration
	log     *logrus.Entry
}

// New builds a client. Callers pass option.WithHTTPClient with an
// authenticated client, and option.WithEndpoint to target a non-default API.
func New(ctx context.Context, kind models.ObjectKind, timeout time.Duration, opts ...option.ClientOption) (*Client, error) {
	svc, err := walletobjects.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		svc:     svc,
		kind:    kind,
		timeout: timeout,
		log:     log.Module("wallet").WithField("kind", string(kind)),
	}, nil
}

// Kind returns the object type this client manages.
func (c *Client) Kind() models.ObjectKind { return c.kind }

// Create inserts a new object. An existing object with the same id is
// reported as AlreadyExists, not as an error.
func (c *Client) Create(ctx context.Context, id, classID string, fields models.PassFields) (models.CreateOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	if c.kind == models.KindLoyalty {
		_, err = c.svc.Loyaltyobject.Insert(toLoyalty(id, classID, fields)).Context(ctx).Do()
	} else {
		_, err = c.svc.Genericobject.Insert(toGeneric(id, classID, fields)).Context(ctx).Do()
	}
	if err == nil {
		c.log.WithField(log.FieldObjectID, id).Info("Object created")
		return models.Created, nil
	}
	if statusCode(err) == http.StatusConflict {
		c.log.WithField(log.FieldObjectID, id).Info("Object already exists")
		return models.AlreadyExists, nil
	}
	return models.Created, c.translate(c.op("create"), id, err)
}

// Get fetches the current state of an object.
func (c *Client) Get(ctx context.Context, id string) (*models.PassObject, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.kind == models.KindLoyalty {
		obj, err := c.svc.Loyaltyobject.Get(id).Context(ctx).Do()
		if err != nil {
			return nil, c.translate(c.op("get"), id, err)
		}
		return fromLoyalty(obj), nil
	}
	obj, err := c.svc.Genericobject.Get(id).Context(ctx).Do()
	if err != nil {
		return nil, c.translate(c.op("get"), id, err)
	}
	return fromGeneric(obj), nil
}

// Patch updates only the non-zero fields; everything else keeps its remote value.
func (c *Client) Patch(ctx context.Context, id string, fields models.PassFields) (*models.PassObject, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.kind == models.KindLoyalty {
		obj, err := c.svc.Loyaltyobject.Patch(id, toLoyalty("", "", fields)).Context(ctx).Do()
		if err != nil {
			return nil, c.translate(c.op("patch"), id, err)
		}
		c.log.WithField(log.FieldObjectID, id).Debug("Object patched")
		return fromLoyalty(obj), nil
	}
	obj, err := c.svc.Genericobject.Patch(id, toGeneric("", "", fields)).Context(ctx).Do()
	if err != nil {
		return nil, c.translate(c.op("patch"), id, err)
	}
	c.log.WithField(log.FieldObjectID, id).Debug("Object patched")
	return fromGeneric(obj), nil
}

// CreateClass inserts the pass class. An existing class is AlreadyExists.
func (c *Client) CreateClass(ctx context.Context, spec models.ClassSpec) (models.CreateOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	if c.kind == models.KindLoyalty {
		class := &walletobjects.LoyaltyClass{
			Id:                 spec.ID,
			IssuerName:         spec.BusinessName,
			ProgramName:        spec.BusinessName,
			HexBackgroundColor: spec.BackgroundHex,
			ReviewStatus:       "UNDER_REVIEW",
			ProgramLogo:        image(spec.LogoURI),
		}
		_, err = c.svc.Loyaltyclass.Insert(class).Context(ctx).Do()
	} else {
		_, err = c.svc.Genericclass.Insert(&walletobjects.GenericClass{Id: spec.ID}).Context(ctx).Do()
	}
	switch {
	case err == nil:
		c.log.WithField(log.FieldClassID, spec.ID).Info("Class created")
		return models.Created, nil
	case statusCode(err) == http.StatusConflict:
		c.log.WithField(log.FieldClassID, spec.ID).Info("Class already exists")
		return models.AlreadyExists, nil
	default:
		return models.Created, c.translate(c.classOp(), spec.ID, err)
	}
}

func (c *Client) op(action string) string {
	if c.kind == models.KindLoyalty {
		return "loyaltyObject " + action
	}
	return "genericObject " + action
}

func (c *Client) classOp() string {
	if c.kind == models.KindLoyalty {
		return "loyaltyClass create"
	}
	return "genericClass create"
}

// translate maps API failures onto the error taxonomy.
func (c *Client) translate(op, id string, err error) error {
	var credErr *models.CredentialError
	if errors.As(err, &credErr) {
		return credErr
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		entry := c.log.WithFields(logrus.Fields{log.FieldObjectID: id, log.FieldStatus: gerr.Code})
		if gerr.Code == http.StatusNotFound {
			entry.Debugf("%s: not found", op)
			return &models.NotFoundError{ID: id}
		}
		entry.Warnf("%s failed", op)
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		return &models.RemoteError{Op: op, Status: gerr.Code, Body: body}
	}
	c.log.WithField(log.FieldObjectID, id).WithError(err).Warnf("%s failed", op)
	return &models.RemoteError{Op: op, Body: err.Error()}
}

func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}
