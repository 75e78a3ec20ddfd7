// Package vdi is a client for the VDI dataset service: admin proxy uploads,
// import status and share offers/receipts.
package vdi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"

	"github.com/BartekS5/udmigrate/internal/transport"
	"github.com/BartekS5/udmigrate/pkg/logger"
	"github.com/BartekS5/udmigrate/pkg/models"
)

const (
	AdminTokenHeader = "Admin-Token"
	UserIDHeader     = "User-ID"

	// RequestTimeout bounds every VDI call; uploads of large archives can be slow.
	RequestTimeout = 30 * time.Minute
)

// Actor is the user an admin request is made on behalf of. It is passed by
// value into every call so no request can pick up another record's identity.
type Actor struct {
	UserID models.UserID
}

func ActingAs(id models.UserID) Actor { return Actor{UserID: id} }

type Client struct {
	BaseURL    string
	AdminToken string
	HTTP       *http.Client
}

func NewClient(baseURL, adminToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = transport.NewClient(RequestTimeout, false)
	}
	return &Client{BaseURL: baseURL, AdminToken: adminToken, HTTP: httpClient}
}

func (c *Client) datasetsURL(segments ...string) string {
	return transport.JoinURL(c.BaseURL, append([]string{"vdi-datasets"}, segments...)...)
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader, actor Actor) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(AdminTokenHeader, c.AdminToken)
	req.Header.Set(UserIDHeader, actor.UserID.String())
	return req, nil
}

// Submit uploads the archive and its metadata as a new dataset owned by
// actor and returns the new dataset id.
func (c *Client) Submit(ctx context.Context, payload models.CreatePayload, archivePath string, actor Actor) (string, error) {
	meta, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Annotate(err, "encoding dataset meta")
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, meta, f, filepath.Base(archivePath)))
	}()
	defer pr.Close()

	url := c.datasetsURL("admin", "proxy-upload")
	req, err := c.newRequest(ctx, http.MethodPost, url, pr, actor)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	logger.Infof("Posting to VDI: %s", url)
	resp, err := transport.Do(c.HTTP, "posting metadata and data to VDI", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created models.CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", errors.Annotatef(err, "decoding VDI upload response from %s", url)
	}
	if created.DatasetID == "" {
		return "", errors.Errorf("VDI upload response from %s has no datasetId", url)
	}
	return created.DatasetID, nil
}

func writeUploadForm(mw *multipart.Writer, meta []byte, archive io.Reader, archiveName string) error {
	if err := mw.WriteField("meta", string(meta)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", archiveName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, archive); err != nil {
		return err
	}
	return mw.Close()
}

// Status returns the current state of a dataset, including its import status.
func (c *Client) Status(ctx context.Context, datasetID string, actor Actor) (*models.DatasetDetails, error) {
	url := c.datasetsURL(datasetID)
	req, err := c.newRequest(ctx, http.MethodGet, url, nil, actor)
	if err != nil {
		return nil, err
	}
	resp, err := transport.Do(c.HTTP, "polling VDI for upload status", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var details models.DatasetDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, errors.Annotatef(err, "decoding VDI status from %s", url)
	}
	return &details, nil
}

func (c *Client) putShare(ctx context.Context, op, url, action string, actor Actor) error {
	body, err := json.Marshal(models.ShareAction{Action: action})
	if err != nil {
		return errors.Trace(err)
	}
	req, err := c.newRequest(ctx, http.MethodPut, url, bytes.NewReader(body), actor)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := transport.Do(c.HTTP, op, req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// OfferShare grants recipient access to the dataset, acting as its owner.
func (c *Client) OfferShare(ctx context.Context, datasetID string, recipient models.UserID, actor Actor) error {
	url := c.datasetsURL(datasetID, "shares", recipient.String(), "offer")
	if err := c.putShare(ctx, "putting share offer to VDI", url, models.ActionGrant, actor); err != nil {
		return err
	}
	logger.Infof("Granted share of %s with %s", datasetID, recipient)
	return nil
}

// OfferShares grants every recipient in order and stops at the first failure.
func (c *Client) OfferShares(ctx context.Context, datasetID string, recipients []models.UserID, actor Actor) error {
	for _, r := range recipients {
		if err := c.OfferShare(ctx, datasetID, r, actor); err != nil {
			return err
		}
	}
	return nil
}

// AcceptShare records the recipient's receipt of a share. The request is made
// as the dataset owner, matching how the offers were created.
func (c *Client) AcceptShare(ctx context.Context, datasetID string, recipient models.UserID, actor Actor) error {
	url := c.datasetsURL(datasetID, "shares", recipient.String(), "receipt")
	logger.Infof("PUT share: %s", url)
	if err := c.putShare(ctx, "putting share receipt to VDI", url, models.ActionAccept, actor); err != nil {
		return err
	}
	logger.Infof("Accepted share of %s by %s", datasetID, recipient)
	return nil
}
