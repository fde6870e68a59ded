package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/tokengen/internal/config"
	"github.com/jmehdipour/tokengen/internal/model"
	"go.uber.org/zap"
)

// ErrNoRecipient is permanent: retrying or switching provider cannot help.
var ErrNoRecipient = errors.New("notification has no recipient")

type Provider interface {
	Name() string
	Ready() bool
	Acquire() bool
	Send(ctx context.Context, env model.TokenIssued) error
}

// breaker gives a provider the MicroBreaker's Ready/Acquire and records outcomes.
type breaker struct {
	br *MicroBreaker
}

func newBreaker(failThreshold, openForMs int) breaker {
	return breaker{br: NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond)}
}

func (b breaker) Ready() bool { return b.br.Ready() }

func (b breaker) Acquire() bool { return b.br.TryAcquire() }

func (b breaker) BreakerState() BreakerState { return b.br.State() }

func (b breaker) record(err error) error { return b.br.Record(err) }

// ---- HTTP JSON mail API ----

type HTTPProvider struct {
	breaker
	name    string
	baseURL string
	path    string
	apiKey  string
	from    string
	client  *http.Client
}

func NewHTTPProvider(name, baseURL, path, apiKey, from string, timeoutMs, failThreshold, openForMs int) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}

	return &HTTPProvider{
		breaker: newBreaker(failThreshold, openForMs),
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    path,
		apiKey:  apiKey,
		from:    from,
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Send(ctx context.Context, env model.TokenIssued) error {
	if env.Recipient == "" {
		p.br.OnSuccess() // release a half-open probe
		return ErrNoRecipient
	}
	msg, err := Render(env)
	if err != nil {
		return err
	}
	return p.record(p.post(ctx, msg))
}

func (p *HTTPProvider) post(ctx context.Context, msg Message) error {
	b, _ := json.Marshal(struct {
		From string `json:"from,omitempty"`
		Message
	}{From: p.from, Message: msg})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("provider=%s path=%s status=%d", p.name, p.path, res.StatusCode)
	}

	return nil
}

// ---- SMTP ----

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPProvider struct {
	breaker
	name     string
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
	sendMail sendMailFunc
}

func NewSMTPProvider(name, host string, port int, username, password, from, fromName string, failThreshold, openForMs int) *SMTPProvider {
	if port <= 0 {
		port = 587
	}
	return &SMTPProvider{
		breaker:  newBreaker(failThreshold, openForMs),
		name:     name,
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		fromName: fromName,
		sendMail: smtp.SendMail,
	}
}

func (p *SMTPProvider) Name() string { return p.name }

func (p *SMTPProvider) Send(ctx context.Context, env model.TokenIssued) error {
	if env.Recipient == "" {
		p.br.OnSuccess()
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := Render(env)
	if err != nil {
		return err
	}

	raw := []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n"+
		"%s",
		p.fromName, p.from, msg.To, msg.Subject, strings.ReplaceAll(msg.Text, "\n", "\r\n")))

	var auth smtp.Auth
	if p.username != "" {
		auth = smtp.PlainAuth("", p.username, p.password, p.host)
	}
	addr := p.host + ":" + strconv.Itoa(p.port)
	if err := p.sendMail(addr, auth, p.from, []string{msg.To}, raw); err != nil {
		return p.record(fmt.Errorf("provider=%s smtp send: %w", p.name, err))
	}
	return p.record(nil)
}

// ---- preview ----

// PreviewProvider logs the rendered message instead of sending it.
type PreviewProvider struct {
	breaker
	name string
	log  *zap.Logger
}

func NewPreviewProvider(name string, log *zap.Logger) *PreviewProvider {
	return &PreviewProvider{breaker: newBreaker(0, 0), name: name, log: log.Named("preview")}
}

func (p *PreviewProvider) Name() string { return p.name }

func (p *PreviewProvider) Send(ctx context.Context, env model.TokenIssued) error {
	msg, err := Render(env)
	if err != nil {
		return err
	}
	p.log.Info("token notification",
		zap.String("token_id", env.TokenID),
		zap.String("order_id", env.OrderID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// NewProviders builds the enabled providers from config.
func NewProviders(cfgs []config.ProviderConfig, log *zap.Logger) ([]Provider, error) {
	var provs []Provider
	for _, pc := range cfgs {
		if !pc.Enabled {
			continue
		}
		switch strings.ToLower(pc.Kind) {
		case "http":
			if strings.TrimSpace(pc.BaseURL) == "" {
				return nil, fmt.Errorf("provider %q: base_url is required", pc.Name)
			}
			provs = append(provs, NewHTTPProvider(pc.Name, pc.BaseURL, pc.Path, pc.APIKey, pc.From,
				pc.TimeoutMs, pc.Breaker.FailThreshold, pc.Breaker.OpenForMs))
		case "smtp":
			if strings.TrimSpace(pc.SMTPHost) == "" || pc.From == "" {
				return nil, fmt.Errorf("provider %q: smtp_host and from are required", pc.Name)
			}
			provs = append(provs, NewSMTPProvider(pc.Name, pc.SMTPHost, pc.SMTPPort, pc.Username, pc.Password,
				pc.From, pc.FromName, pc.Breaker.FailThreshold, pc.Breaker.OpenForMs))
		case "preview":
			provs = append(provs, NewPreviewProvider(pc.Name, log))
		default:
			return nil, fmt.Errorf("provider %q: unknown kind %q", pc.Name, pc.Kind)
		}
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("no providers enabled in config")
	}
	return provs, nil
}
