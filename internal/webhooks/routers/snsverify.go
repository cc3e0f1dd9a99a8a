package routers

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ErrInvalidSignature is returned for SNS messages that AWS did not sign.
var ErrInvalidSignature = errors.New("invalid sns message signature")

// ErrInvalidResponseURL is returned for a ResponseURL that is not a pre-signed S3 URL.
var ErrInvalidResponseURL = errors.New("response url is not an s3 url")

// SNSMessage is the envelope SNS POSTs to an HTTP subscriber.
type SNSMessage struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	Token            string `json:"Token,omitempty"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
}

// StringToSign builds the canonical text SNS signs for the message type.
func (m *SNSMessage) StringToSign() string {
	var b strings.Builder
	add := func(k, v string) {
		b.WriteString(k)
		b.WriteByte('\n')
		b.WriteString(v)
		b.WriteByte('\n')
	}

	add("Message", m.Message)
	add("MessageId", m.MessageID)
	if m.Type == "Notification" {
		if m.Subject != "" {
			add("Subject", m.Subject)
		}
		add("Timestamp", m.Timestamp)
		add("TopicArn", m.TopicArn)
		add("Type", m.Type)
		return b.String()
	}
	add("SubscribeURL", m.SubscribeURL)
	add("Timestamp", m.Timestamp)
	add("Token", m.Token)
	add("TopicArn", m.TopicArn)
	add("Type", m.Type)
	return b.String()
}

// Verifier authenticates an SNS message.
type Verifier interface {
	Verify(ctx context.Context, msg *SNSMessage) error
}

var snsCertHost = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

// SNSVerifier checks message signatures against the signing certificate
// published by SNS. Certificates are cached by URL.
type SNSVerifier struct {
	Client *http.Client
	// AllowCertHost limits where signing certificates may be fetched from.
	AllowCertHost func(host string) bool

	mu    sync.Mutex
	certs map[string]*x509.Certificate
}

func NewSNSVerifier() *SNSVerifier {
	return &SNSVerifier{
		Client:        &http.Client{Timeout: 10 * time.Second},
		AllowCertHost: snsCertHost.MatchString,
		certs:         map[string]*x509.Certificate{},
	}
}

func (v *SNSVerifier) Verify(ctx context.Context, msg *SNSMessage) error {
	var hash crypto.Hash
	switch msg.SignatureVersion {
	case "1":
		hash = crypto.SHA1
	case "2":
		hash = crypto.SHA256
	default:
		return fmt.Errorf("%w: unsupported signature version %q", ErrInvalidSignature, msg.SignatureVersion)
	}

	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil || len(sig) == 0 {
		return fmt.Errorf("%w: signature is not base64", ErrInvalidSignature)
	}

	cert, err := v.cert(ctx, msg.SigningCertURL)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: signing certificate is not rsa", ErrInvalidSignature)
	}

	// x509.Certificate.CheckSignature refuses SHA1, which SignatureVersion 1 uses.
	var digest []byte
	if hash == crypto.SHA1 {
		sum := sha1.Sum([]byte(msg.StringToSign()))
		digest = sum[:]
	} else {
		sum := sha256.Sum256([]byte(msg.StringToSign()))
		digest = sum[:]
	}
	if err := rsa.VerifyPKCS1v15(pub, hash, digest, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (v *SNSVerifier) cert(ctx context.Context, rawURL string) (*x509.Certificate, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || !v.AllowCertHost(u.Hostname()) {
		return nil, fmt.Errorf("%w: untrusted signing certificate url %q", ErrInvalidSignature, rawURL)
	}

	v.mu.Lock()
	cached, ok := v.certs[rawURL]
	v.mu.Unlock()
	if ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := v.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signing certificate: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch signing certificate: %s", res.Status)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read signing certificate: %w", err)
	}
	block, _ := pem.Decode(body)
	if block == nil {
		return nil, fmt.Errorf("%w: signing certificate is not pem", ErrInvalidSignature)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	v.mu.Lock()
	if v.certs == nil {
		v.certs = map[string]*x509.Certificate{}
	}
	v.certs[rawURL] = cert
	v.mu.Unlock()
	return cert, nil
}

// ValidateResponseURL accepts only https URLs on an S3 endpoint, which is
// where CloudFormation pre-signs custom resource responses.
func ValidateResponseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponseURL, err)
	}
	if u.Scheme != "https" || u.User != nil {
		return fmt.Errorf("%w: %s", ErrInvalidResponseURL, raw)
	}

	host := strings.ToLower(u.Hostname())
	var rest string
	switch {
	case strings.HasSuffix(host, ".amazonaws.com"):
		rest = strings.TrimSuffix(host, ".amazonaws.com")
	case strings.HasSuffix(host, ".amazonaws.com.cn"):
		rest = strings.TrimSuffix(host, ".amazonaws.com.cn")
	default:
		return fmt.Errorf("%w: %s", ErrInvalidResponseURL, host)
	}
	for _, label := range strings.Split(rest, ".") {
		if label == "s3" || strings.HasPrefix(label, "s3-") {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidResponseURL, host)
}
