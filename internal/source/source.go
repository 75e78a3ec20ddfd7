// Package source loads the snapshot of UD listing entries a run works from.
// The snapshot is read once, sorted by legacy id and never modified.
package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/juju/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/BartekS5/udmigrate/internal/transport"
	"github.com/BartekS5/udmigrate/pkg/logger"
	"github.com/BartekS5/udmigrate/pkg/models"
)

// ListingLocation asks the UD service for its live listing instead of reading
// a snapshot.
const ListingLocation = "ud"

// Lister is satisfied by *ud.Client.
type Lister interface {
	ListDatasets(ctx context.Context) ([]models.LegacyDataset, error)
}

// S3Config addresses an S3 compatible store holding snapshots.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type Loader struct {
	Lister Lister
	HTTP   *http.Client
	S3     S3Config
}

// Load reads the records at location, which is one of:
//
//	ud                    the UD service listing
//	s3://bucket/key       an object in S3
//	http(s)://...         a JSON document served over HTTP
//	anything else         a local JSON file, optionally gzip-compressed (.gz)
func (l *Loader) Load(ctx context.Context, location string) ([]models.LegacyDataset, error) {
	var (
		records []models.LegacyDataset
		err     error
	)
	switch {
	case location == "":
		return nil, errors.NotValidf("source location %q", location)
	case location == ListingLocation:
		if l.Lister == nil {
			return nil, errors.NewNotValid(nil, "UD listing requested without a UD client")
		}
		records, err = l.Lister.ListDatasets(ctx)
	case strings.HasPrefix(location, "s3://"):
		records, err = l.loadS3(ctx, location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		records, err = l.loadHTTP(ctx, location)
	default:
		records, err = loadFile(location)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "loading source %s", location)
	}

	SortByID(records)
	logger.Infof("Loaded %d UD record(s) from %s", len(records), location)
	return records, nil
}

// SortByID orders records by ascending legacy id, keeping the listing order
// of entries that share an id.
func SortByID(records []models.LegacyDataset) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
}

// Decode reads a JSON array of listing entries, transparently gunzipping it.
func Decode(r io.Reader) ([]models.LegacyDataset, error) {
	br, compressed, err := sniffGzip(r)
	if err != nil {
		return nil, err
	}
	if compressed {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Trace(err)
		}
		defer gz.Close()
		br = gz
	}

	var records []models.LegacyDataset
	if err := json.NewDecoder(br).Decode(&records); err != nil {
		return nil, errors.Annotate(err, "decoding UD records")
	}
	return records, nil
}

func sniffGzip(r io.Reader) (io.Reader, bool, error) {
	head := make([]byte, 2)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, false, errors.Trace(err)
	}
	head = head[:n]
	joined := io.MultiReader(strings.NewReader(string(head)), r)
	return joined, n == 2 && head[0] == 0x1f && head[1] == 0x8b, nil
}

func loadFile(path string) ([]models.LegacyDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("snapshot %s", path)
		}
		return nil, errors.Trace(err)
	}
	defer f.Close()
	return Decode(f)
}

func (l *Loader) loadHTTP(ctx context.Context, u string) ([]models.LegacyDataset, error) {
	client := l.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := transport.Do(client, "fetching snapshot", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return Decode(resp.Body)
}

func splitS3(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", errors.NotValidf("S3 location %q", location)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errors.NotValidf("S3 location %q", location)
	}
	return u.Host, key, nil
}

func (l *Loader) loadS3(ctx context.Context, location string) ([]models.LegacyDataset, error) {
	bucket, key, err := splitS3(location)
	if err != nil {
		return nil, err
	}
	if l.S3.Endpoint == "" {
		return nil, errors.NewNotValid(nil, "S3 source requested without an S3 endpoint")
	}

	client, err := minio.New(l.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(l.S3.AccessKey, l.S3.SecretKey, ""),
		Secure: l.S3.UseSSL,
		Region: l.S3.Region,
	})
	if err != nil {
		return nil, errors.Annotate(err, "creating S3 client")
	}

	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Annotatef(err, "getting s3://%s/%s", bucket, key)
	}
	defer obj.Close()
	return Decode(obj)
}
