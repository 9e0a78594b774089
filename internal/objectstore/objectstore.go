// Package objectstore publishes transcode artifacts to an S3-compatible
// bucket using SigV4-signed HTTP requests. HLS playlists and segments keep
// their literal filenames so that manifest-referenced names resolve; other
// artifacts (thumbnails) are stored under generated unique names.
package objectstore

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config describes the bucket used for persisting transcode artifacts.
// Segment files are not individually tracked for deletion; configure a bucket
// lifecycle rule (LifecycleDays) to reap orphaned segments.
type Config struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	Prefix         string
	PublicEndpoint string
	LifecycleDays  int
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 30 * time.Second

// Object identifies a stored artifact by bucket key and public URL.
type Object struct {
	Key string
	URL string
}

// Client is the storage contract the transcode pipeline depends on.
type Client interface {
	Enabled() bool
	// UploadFile stores the file under keyPrefix keeping its base name.
	UploadFile(ctx context.Context, localPath, keyPrefix, contentType string) (Object, error)
	// UploadGenerated stores the file under keyPrefix with a generated
	// unique name, preserving only the file extension.
	UploadGenerated(ctx context.Context, localPath, keyPrefix, contentType string) (Object, error)
	Delete(ctx context.Context, key string) error
}

// ContentTypeForFile maps artifact filenames to the content types required
// by HLS clients.
func ContentTypeForFile(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// NewClient builds a client for the configured bucket. When no bucket or
// endpoint is configured a disabled no-op client is returned so callers can
// run without object storage (artifact URLs stay empty).
func NewClient(cfg Config) Client {
	bucket := strings.TrimSpace(cfg.Bucket)
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if bucket == "" || endpoint == "" {
		return noopClient{}
	}
	if strings.Contains(endpoint, "://") {
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.Host
		}
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	base := &url.URL{Scheme: scheme, Host: endpoint}
	if base.Host == "" {
		return noopClient{}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	cfg.Bucket = bucket
	return &s3Client{
		cfg:        cfg,
		endpoint:   base,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type noopClient struct{}

func (noopClient) Enabled() bool { return false }

func (noopClient) UploadFile(ctx context.Context, localPath, keyPrefix, contentType string) (Object, error) {
	return Object{}, nil
}

func (noopClient) UploadGenerated(ctx context.Context, localPath, keyPrefix, contentType string) (Object, error) {
	return Object{}, nil
}

func (noopClient) Delete(ctx context.Context, key string) error { return nil }

type s3Client struct {
	cfg        Config
	endpoint   *url.URL
	httpClient *http.Client
}

func (c *s3Client) Enabled() bool { return true }

func (c *s3Client) UploadFile(ctx context.Context, localPath, keyPrefix, contentType string) (Object, error) {
	key := joinKey(keyPrefix, filepath.Base(localPath))
	return c.putFile(ctx, localPath, key, contentType)
}

func (c *s3Client) UploadGenerated(ctx context.Context, localPath, keyPrefix, contentType string) (Object, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(localPath))
	key := joinKey(keyPrefix, name)
	return c.putFile(ctx, localPath, key, contentType)
}

func (c *s3Client) putFile(ctx context.Context, localPath, key, contentType string) (Object, error) {
	body, err := os.ReadFile(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("read artifact %s: %w", localPath, err)
	}
	finalKey := c.applyPrefix(key)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(finalKey).String(), bytes.NewReader(body))
	if err != nil {
		return Object{}, fmt.Errorf("create upload request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	c.signRequest(request, sha256Hex(body))
	response, err := c.httpClient.Do(request)
	if err != nil {
		return Object{}, fmt.Errorf("upload object %s: %w", finalKey, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return Object{}, fmt.Errorf("upload object %s: unexpected status %d", finalKey, response.StatusCode)
	}
	return Object{Key: finalKey, URL: c.publicURL(finalKey)}, nil
}

func (c *s3Client) Delete(ctx context.Context, key string) error {
	finalKey := c.applyPrefix(key)
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(finalKey).String(), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	c.signRequest(request, emptyPayloadHash)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", finalKey, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("delete object %s: unexpected status %d", finalKey, response.StatusCode)
	}
	return nil
}

func joinKey(prefix, name string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (c *s3Client) applyPrefix(key string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	prefix := strings.Trim(strings.TrimSpace(c.cfg.Prefix), "/")
	if prefix == "" {
		return trimmed
	}
	if trimmed == "" {
		return prefix
	}
	if trimmed == prefix || strings.HasPrefix(trimmed, prefix+"/") {
		return trimmed
	}
	return prefix + "/" + trimmed
}

func (c *s3Client) objectURL(finalKey string) *url.URL {
	path := "/" + strings.TrimLeft(c.cfg.Bucket, "/")
	if trimmedKey := strings.TrimLeft(finalKey, "/"); trimmedKey != "" {
		path += "/" + trimmedKey
	}
	u := *c.endpoint
	u.Path = path
	return &u
}

func (c *s3Client) publicURL(key string) string {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.PublicEndpoint), "/")
	if base == "" {
		return ""
	}
	trimmedKey := strings.TrimLeft(key, "/")
	if trimmedKey == "" {
		return base
	}
	return base + "/" + trimmedKey
}

// signRequest applies AWS SigV4 signing. Requests stay unsigned when no
// credentials are configured, which suits anonymous-write test buckets.
func (c *s3Client) signRequest(req *http.Request, payloadHash string) {
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	accessKey := strings.TrimSpace(c.cfg.AccessKey)
	secretKey := strings.TrimSpace(c.cfg.SecretKey)
	if accessKey == "" || secretKey == "" {
		return
	}
	region := strings.TrimSpace(c.cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)

	canonicalHeaders, signedHeaders := canonicalHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
	scope := strings.Join([]string{dateStamp, region, "s3", "aws4_request"}, "/")
	requestHash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(requestHash[:]),
	}, "\n")
	signature := hmacHex(signingKey(secretKey, dateStamp, region), stringToSign)
	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		accessKey, scope, signedHeaders, signature,
	))
}

func canonicalHeaders(req *http.Request) (string, string) {
	headers := make(map[string]string)
	for key, values := range req.Header {
		lower := strings.ToLower(key)
		if lower == "authorization" {
			continue
		}
		trimmed := make([]string, 0, len(values))
		for _, v := range values {
			trimmed = append(trimmed, strings.TrimSpace(v))
		}
		headers[lower] = strings.Join(trimmed, ",")
	}
	if _, ok := headers["host"]; !ok && req.Host != "" {
		headers["host"] = req.Host
	}
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteByte(':')
		builder.WriteString(headers[key])
		builder.WriteByte('\n')
	}
	return builder.String(), strings.Join(keys, ";")
}

func canonicalURI(u *url.URL) string {
	if u == nil || u.EscapedPath() == "" {
		return "/"
	}
	path := u.EscapedPath()
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func canonicalQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil || len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		sort.Strings(values[key])
		for _, value := range values[key] {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
	}
	return strings.Join(parts, "&")
}

func signingKey(secret, dateStamp, region string) []byte {
	kDate := hmacSum([]byte("AWS4"+secret), dateStamp)
	kRegion := hmacSum(kDate, region)
	kService := hmacSum(kRegion, "s3")
	return hmacSum(kService, "aws4_request")
}

func hmacSum(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func hmacHex(key []byte, data string) string {
	return hex.EncodeToString(hmacSum(key, data))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var emptyPayloadHash = sha256Hex(nil)
