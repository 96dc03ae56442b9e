package listing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/openrdap/rdap"
	"go.uber.org/zap"
)

// DomainStatus is the RDAP registration state of a website's domain.
type DomainStatus string

const (
	DomainRegistered    DomainStatus = "registered"
	DomainNotRegistered DomainStatus = "not-registered"
	DomainUnknown       DomainStatus = "unknown"
)

// DefaultRDAPServers routes TLDs common in the directory to their registry.
var DefaultRDAPServers = map[string][]string{
	"de":  {"https://rdap.denic.de", "https://rdap.org"},
	"com": {"https://rdap.verisign.com/com/v1", "https://rdap.org"},
	"net": {"https://rdap.verisign.com/net/v1", "https://rdap.org"},
}

// FallbackRDAPServers is used for TLDs without an explicit route.
var FallbackRDAPServers = []string{"https://rdap.org"}

// Verification is the outcome of checking one listing website.
type Verification struct {
	Website    string       `json:"website" yaml:"website"`
	Domain     string       `json:"domain" yaml:"domain"`
	Status     DomainStatus `json:"status" yaml:"status"`
	Registrar  string       `json:"registrar,omitempty" yaml:"registrar,omitempty"`
	Expiration string       `json:"expiration,omitempty" yaml:"expiration,omitempty"`
	Server     string       `json:"server,omitempty" yaml:"server,omitempty"`
	StatusCode int          `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Message    string       `json:"message,omitempty" yaml:"message,omitempty"`
	CheckedAt  time.Time    `json:"checked_at" yaml:"checked_at"`
}

// WebsiteVerifier checks that a listing's website domain is registered.
type WebsiteVerifier struct {
	Client  *rdap.Client
	Timeout time.Duration
	Clock   func() time.Time
	Logger  interface {
		Debug(msg string, fields ...zap.Field)
	}

	// Servers maps TLDs without a leading dot to RDAP base URLs tried in order.
	Servers map[string][]string
}

// Verify looks up the registered domain of website over RDAP.
func (v *WebsiteVerifier) Verify(ctx context.Context, website string) (*Verification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	domain, err := RegisteredDomain(website)
	if err != nil {
		return nil, err
	}

	result := &Verification{
		Website: strings.TrimSpace(website),
		Domain:  domain,
		Status:  DomainUnknown,
	}

	client := &rdap.Client{}
	if v != nil && v.Client != nil {
		client = v.Client
	}

	servers := v.servers(domain[strings.LastIndex(domain, ".")+1:])
	for _, serverBase := range servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		serverURL, err := url.Parse(serverBase)
		if err != nil {
			return nil, fmt.Errorf("invalid rdap server url: %w", err)
		}

		req := rdap.NewDomainRequest(domain).WithServer(serverURL)
		if v != nil && v.Timeout > 0 {
			req.Timeout = v.Timeout
		}
		req = req.WithContext(ctx)

		resp, reqErr := client.Do(req)
		statusCode, server := responseStatus(resp, serverBase)
		result.Server = server
		result.StatusCode = statusCode

		if reqErr != nil {
			if isNotFound(reqErr) || statusCode == 404 {
				result.Status = DomainNotRegistered
				result.Message = "rdap not found"
				break
			}
			result.Message = reqErr.Error()
			v.debug("RDAP server failed, trying next",
				zap.String("server", server),
				zap.Int("status", statusCode),
				zap.Error(reqErr))
			continue
		}

		if d, ok := resp.Object.(*rdap.Domain); ok {
			result.Status = DomainRegistered
			result.Message = "domain found"
			result.Registrar = findRegistrar(d)
			result.Expiration = findEventDate(d.Events, "expiration")
			break
		}

		result.Message = "unexpected rdap response"
	}

	result.CheckedAt = v.now()
	return result, nil
}

// RegisteredDomain extracts the last two host labels from a website URL.
func RegisteredDomain(website string) (string, error) {
	website = NormalizeWebsite(website)
	if website == "" {
		return "", errors.New("website is required")
	}

	u, err := url.Parse(website)
	if err != nil {
		return "", fmt.Errorf("parse website: %w", err)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	labels := strings.Split(host, ".")
	if len(labels) < 2 || labels[len(labels)-1] == "" || labels[len(labels)-2] == "" {
		return "", fmt.Errorf("website %q has no registrable domain", website)
	}
	return strings.Join(labels[len(labels)-2:], "."), nil
}

func (v *WebsiteVerifier) servers(tld string) []string {
	routes := DefaultRDAPServers
	if v != nil && v.Servers != nil {
		routes = v.Servers
	}
	if servers := routes[tld]; len(servers) > 0 {
		return servers
	}
	if servers := routes["*"]; len(servers) > 0 {
		return servers
	}
	return FallbackRDAPServers
}

func (v *WebsiteVerifier) now() time.Time {
	if v != nil && v.Clock != nil {
		return v.Clock()
	}
	return time.Now().UTC()
}

func (v *WebsiteVerifier) debug(msg string, fields ...zap.Field) {
	if v != nil && v.Logger != nil {
		v.Logger.Debug(msg, fields...)
	}
}

func responseStatus(resp *rdap.Response, fallbackURL string) (int, string) {
	if resp == nil || len(resp.HTTP) == 0 || resp.HTTP[0] == nil || resp.HTTP[0].Response == nil {
		return 0, strings.TrimSpace(fallbackURL)
	}

	server := strings.TrimSpace(resp.HTTP[0].URL)
	if server == "" {
		server = strings.TrimSpace(fallbackURL)
	}
	return resp.HTTP[0].Response.StatusCode, server
}

func isNotFound(err error) bool {
	var clientErr *rdap.ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	return clientErr.Type == rdap.ObjectDoesNotExist
}

func findRegistrar(domain *rdap.Domain) string {
	for _, entity := range domain.Entities {
		for _, role := range entity.Roles {
			if role == "registrar" && entity.VCard != nil {
				return entity.VCard.Name()
			}
		}
	}
	return ""
}

func findEventDate(events []rdap.Event, action string) string {
	for _, event := range events {
		if event.Action == action {
			return event.Date
		}
	}
	return ""
}
