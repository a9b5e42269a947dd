package portal

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/config"
	"github.com/goodtune/coxstatus/internal/session"
)

const (
	testUser     = "user@example.com"
	testPassword = "hunter2"
	testToken    = "20111xyz"
)

// fakePortal imitates the sign-in script, authn API, authorize exchange and
// usage endpoints.
type fakePortal struct {
	t   *testing.T
	srv *httptest.Server

	mu             sync.Mutex
	scriptHits     int
	authnHits      int
	authorizeHits  int
	usageHits      int
	summaryHits    int
	lastAuthorize  map[string]string
	setLoginCookie bool
	softExpiry     bool
	usageBody      string
	summaryHTML    string
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{t: t, setLoginCookie: true}
	p.usageBody = `{"modemDetails":[{"dataUsed":{"daily":[{"date":"6/13","data":"100"},{"date":"6/14","data":"200"}]},"errorDaily":null}]}`
	p.summaryHTML = summaryPage(`{"errorFlag":false,"percentageDataUsed":"40","totalDataUsed":"500&#160;GB","dataPlan":"1.25 TB","usageCycle":"June 1 - June 30","lastUpdate":"Usage as of June 14"}`)

	mux := http.NewServeMux()
	mux.HandleFunc("/signin.js", p.handleScript)
	mux.HandleFunc("/api/v1/authn", p.handleAuthn)
	mux.HandleFunc("/oauth2/v1/authorize", p.handleAuthorize)
	mux.HandleFunc("/authres/code", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>home</html>"))
	})
	mux.HandleFunc("/usage", p.handleUsage)
	mux.HandleFunc("/summary", p.handleSummary)

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func summaryPage(payload string) string {
	return `<html><body><div id="usage" data-usage-summary="` + html.EscapeString(payload) + `"></div></body></html>`
}

func (p *fakePortal) handleScript(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.scriptHits++
	p.mu.Unlock()

	fmt.Fprintf(w, `/* clientId: "stale-commented-id" */
var config = {
  baseUrl: '%[1]s',
  clientId: "0oa1abcd",
  issuer: "%[1]s/oauth2",
  scopes: "openid email"
};`, p.srv.URL)
}

func (p *fakePortal) handleAuthn(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.authnHits++
	p.mu.Unlock()

	if r.Method != http.MethodPost {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	var body authnRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if body.Username != testUser || body.Password != testPassword {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errorCode":"E0000004","errorSummary":"Authentication failed"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"SUCCESS","sessionToken":"` + testToken + `"}`))
}

func (p *fakePortal) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.authorizeHits++
	q := r.URL.Query()
	p.lastAuthorize = map[string]string{}
	for k := range q {
		p.lastAuthorize[k] = q.Get(k)
	}
	setCookie := p.setLoginCookie
	p.mu.Unlock()

	if q.Get("sessionToken") != testToken {
		_, _ = w.Write([]byte("<html>Please sign in</html>"))
		return
	}
	if setCookie {
		http.SetCookie(w, &http.Cookie{Name: "SM_LOGGEDIN", Value: "YES", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "SMSESSION", Value: "opaque", Path: "/"})
	}
	http.Redirect(w, r, "/authres/code?code=abc", http.StatusFound)
}

func (p *fakePortal) loggedIn(r *http.Request) bool {
	_, err := r.Cookie("SM_LOGGEDIN")
	return err == nil
}

func (p *fakePortal) handleUsage(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.usageHits++
	soft := p.softExpiry
	body := p.usageBody
	p.mu.Unlock()

	if !p.loggedIn(r) {
		if soft {
			_, _ = w.Write([]byte(`<html><h1>Please sign in</h1></html>`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.URL.Query().Get("usagePeriodType") == "" || r.URL.Query().Get("_") == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (p *fakePortal) handleSummary(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.summaryHits++
	page := p.summaryHTML
	p.mu.Unlock()

	if !p.loggedIn(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_, _ = w.Write([]byte(page))
}

func (p *fakePortal) counts() (script, authn, authorize, usage, summary int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scriptHits, p.authnHits, p.authorizeHits, p.usageHits, p.summaryHits
}

func (p *fakePortal) config() config.PortalConfig {
	cfg := config.Defaults().Portal
	cfg.Username = testUser
	cfg.Password = testPassword
	cfg.ConfigScriptURL = p.srv.URL + "/signin.js"
	cfg.RedirectURI = p.srv.URL + "/authres/code"
	cfg.WarmupURL = ""
	cfg.UsageURL = p.srv.URL + "/usage"
	cfg.SummaryURL = p.srv.URL + "/summary"
	cfg.Timeout = "5s"
	return cfg
}

type harness struct {
	portal  *fakePortal
	session *session.Session
	client  *Client
	auth    *Authenticator
	fetcher *Fetcher
}

func newHarness(t *testing.T, p *fakePortal, cfg config.PortalConfig) *harness {
	t.Helper()

	sess := session.New()
	client, err := NewClient(cfg, sess, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	resolver := NewScriptResolver(client, cfg.ConfigScriptURL, cfg.Constants, cfg.RequiredConstants)
	auth := NewAuthenticator(client, sess, nil, resolver, Credentials{Username: cfg.Username, Password: cfg.Password}, cfg, zerolog.Nop())
	auth.newNonce = func() string { return "fixed-nonce" }

	return &harness{
		portal:  p,
		session: sess,
		client:  client,
		auth:    auth,
		fetcher: NewFetcher(client, auth.Login, cfg, zerolog.Nop()),
	}
}
