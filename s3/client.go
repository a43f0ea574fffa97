// Package s3 is an asynchronous client for V2-signed, S3-compatible
// object stores, fronted by a process-wide pool of reusable HTTP
// connection batches.  The dialect is deliberately old and narrow:
// plain HTTP, path-style buckets, AWS V2 signatures.
package s3

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// DefaultBaseURL is the public AWS endpoint.
const DefaultBaseURL = "s3.amazonaws.com"

const octetStream = "application/octet-stream"

// Config parameterizes a Client.  Credentials may be given directly or
// resolved through the AWS credential chain (environment, then shared
// credentials file) when both key fields are empty.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	BaseURL         string // "" means DefaultBaseURL
	Bucket          string
	Pool            *BatchPool // nil means a private default-sized pool
}

// Response is the store's answer to one call: the HTTP status and the
// full payload.
type Response struct {
	StatusCode int
	Body       []byte
}

// Ok reports whether the status is in [200, 300).
func (r Response) Ok() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Client issues GET and PUT calls against one bucket.  A client checks
// one batch out of the pool at construction and holds it until Release;
// individual calls borrow request slots from that batch.  Clients are
// safe for concurrent use.
type Client struct {
	keyID   string
	secret  string
	baseURL string
	bucket  string
	pool    *BatchPool
	batch   *Batch
}

// New returns a client for cfg's bucket.
func New(cfg Config) (*Client, error) {
	keyID, secret := cfg.AccessKeyID, cfg.SecretAccessKey
	if keyID == "" && secret == "" {
		chain := credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvProvider{},
			&credentials.SharedCredentialsProvider{},
		})
		v, err := chain.Get()
		if err != nil {
			return nil, errors.E(errors.NotExist, "s3: no credentials configured", err)
		}
		keyID, secret = v.AccessKeyID, v.SecretAccessKey
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pool := cfg.Pool
	if pool == nil {
		pool = NewBatchPool(DefaultNumBatches, DefaultBatchSize)
	}
	return &Client{
		keyID:   keyID,
		secret:  secret,
		baseURL: unPostfixSlash(baseURL),
		bucket:  prefixSlash(cfg.Bucket),
		pool:    pool,
		batch:   pool.Acquire(),
	}, nil
}

// Release returns the client's batch to the pool.  The client must not
// be used afterwards.
func (c *Client) Release() {
	c.pool.Release(c.batch)
}

// Get fetches an object synchronously.
func (c *Client) Get(file string) (Response, error) {
	resource := c.bucket + prefixSlash(file)
	date := httpDate()
	req, err := http.NewRequest("GET", "http://"+c.baseURL+resource, nil)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Date", date)
	req.Header.Set("Authorization",
		"AWS "+c.keyID+":"+signedEncodedString(c.secret, "GET", resource, date, ""))
	return c.checked(c.batch.do(req))
}

// Put stores an object synchronously.  data is only read.
func (c *Client) Put(file string, data []byte) (Response, error) {
	resource := c.bucket + prefixSlash(file)
	date := httpDate()
	req, err := http.NewRequest("PUT", "http://"+c.baseURL+resource, bytes.NewReader(data))
	if err != nil {
		return Response{}, err
	}
	req.ContentLength = int64(len(data))
	// Identity framing only: no chunked transfer, no 100-continue
	// handshake.
	req.TransferEncoding = []string{"identity"}
	req.Header.Del("Expect")
	req.Header.Set("Content-Type", octetStream)
	req.Header.Set("Date", date)
	req.Header.Set("Authorization",
		"AWS "+c.keyID+":"+signedEncodedString(c.secret, "PUT", resource, date, octetStream))
	return c.checked(c.batch.do(req))
}

// GetAsync dispatches Get on a detached worker and resolves the
// collector entry for id when the call finishes.
func (c *Client) GetAsync(id uint64, file string, col *Collector) {
	e := col.start(id, file)
	go func() {
		resp, err := c.Get(file)
		col.resolve(e, resp, err)
	}()
}

// PutAsync dispatches Put on a detached worker and resolves the
// collector entry for id when the call finishes.  data must not be
// mutated until the entry resolves.
func (c *Client) PutAsync(id uint64, file string, data []byte, col *Collector) {
	e := col.start(id, file)
	go func() {
		resp, err := c.Put(file, data)
		col.resolve(e, resp, err)
	}()
}

// checked maps non-2xx statuses to Remote errors, preserving the
// response for the caller.
func (c *Client) checked(resp Response, err error) (Response, error) {
	if err != nil {
		return resp, err
	}
	if !resp.Ok() {
		return resp, errors.E(errors.Remote,
			fmt.Sprintf("s3: %s returned HTTP %d", c.baseURL+c.bucket, resp.StatusCode))
	}
	return resp, nil
}

// roundTrip executes req and drains the body.
func roundTrip(client *http.Client, req *http.Request) (Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, errors.E(errors.Net, "s3: "+req.URL.Host, err)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if cerr := resp.Body.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Response{}, errors.E(errors.Net, "s3: read response", err)
	}
	if resp.StatusCode >= 300 {
		log.Debug.Printf("s3: %s %s: HTTP %d", req.Method, req.URL, resp.StatusCode)
	}
	return Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// prefixSlash ensures exactly one leading slash.
func prefixSlash(in string) string {
	return "/" + strings.TrimLeft(in, "/")
}

// unPostfixSlash strips any trailing slashes.
func unPostfixSlash(in string) string {
	return strings.TrimRight(in, "/")
}
