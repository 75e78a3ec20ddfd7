// Package ud talks to the legacy User Datasets service: it lists datasets and
// downloads their original files.
package ud

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/juju/errors"

	"github.com/BartekS5/udmigrate/internal/transport"
	"github.com/BartekS5/udmigrate/pkg/models"
)

const (
	// DownloadTimeout bounds a single file download.
	DownloadTimeout = 180 * time.Second

	DefaultListPath = "/users/current/user-datasets"
)

type Client struct {
	BaseURL    string
	AuthTicket string
	ListPath   string
	HTTP       *http.Client
}

func NewClient(baseURL, authTicket string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = transport.NewClient(DownloadTimeout, false)
	}
	return &Client{
		BaseURL:    baseURL,
		AuthTicket: authTicket,
		ListPath:   DefaultListPath,
		HTTP:       httpClient,
	}
}

// The UD service requires these headers to be present even though the admin
// endpoints only look at the auth_tkt cookie.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Auth-Key", "dontcare")
	req.Header.Set("originating-user-id", "dontcare")
	req.Header.Set("Cookie", "auth_tkt="+c.AuthTicket)
}

// ListDatasets fetches the full UD listing, including share-recipient rows.
func (c *Client) ListDatasets(ctx context.Context) ([]models.LegacyDataset, error) {
	u := transport.JoinURL(c.BaseURL, c.ListPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := transport.Do(c.HTTP, "listing UD datasets", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []models.LegacyDataset
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Annotatef(err, "decoding UD listing from %s", u)
	}
	return out, nil
}

// FileURL is the admin download URL for one file of a dataset.
func (c *Client) FileURL(owner models.UserID, legacyID int64, fileName string) string {
	return transport.JoinURL(c.BaseURL,
		"users/current/user-datasets/admin",
		owner.String(),
		strconv.FormatInt(legacyID, 10),
		"user-datafiles",
		url.PathEscape(fileName))
}

// DownloadFile streams one file of a dataset into w and returns the number of
// bytes written. A non-2xx response is returned as *transport.RequestError.
func (c *Client) DownloadFile(ctx context.Context, owner models.UserID, legacyID int64, fileName string, w io.Writer) (int64, error) {
	u := c.FileURL(owner, legacyID, fileName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, errors.Trace(err)
	}
	c.setHeaders(req)

	resp, err := transport.Do(c.HTTP, "downloading from UD service", req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, errors.Annotatef(err, "reading %s", u)
	}
	return n, nil
}
