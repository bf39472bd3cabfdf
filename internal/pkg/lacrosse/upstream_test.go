package lacrosse

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/anicoll/lacrosse-integration/internal/pkg/config"
)

const (
	testCookieName = "lax_session"
	testProductKey = "PK-42"
	testSessionKey = "abc123"
)

// fakeUpstream imitates the mobile site: account script, login endpoint and
// status page.
type fakeUpstream struct {
	srv *httptest.Server

	mu          sync.Mutex
	script      string
	scriptCode  int
	loginCode   int
	loginBody   string
	statusBody  string
	rejectNext  int // status requests to answer with the login page
	lastForm    url.Values
	lastLoginQS url.Values

	scriptCalls atomic.Int32
	loginCalls  atomic.Int32
	statusCalls atomic.Int32
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{
		scriptCode: http.StatusOK,
		loginCode:  http.StatusFound,
		loginBody:  `{"sessionKey":"` + testSessionKey + `","userId":7}`,
		statusBody: statusPage(1, `{"dev1":{"device_id":"A1","device_name":"Garden","obs":[{"ambient_temp":20,"probe_temp":0,"humidity":55,"lowbattery":0,"u_timestamp":1700000000}]}}`),
	}
	f.srv = httptest.NewTLSServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	f.script = accountScript(f.serviceURL(), testProductKey, testCookieName, 10)
	return f
}

func (f *fakeUpstream) baseURL() string {
	return f.srv.URL + "/v1.2/"
}

func (f *fakeUpstream) serviceURL() string {
	return "//" + f.srv.Listener.Addr().String() + "/api/"
}

func (f *fakeUpstream) set(fn func(f *fakeUpstream)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeUpstream) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1.2/resources/js/dd/account-enhanced.js":
		f.scriptCalls.Add(1)
		w.WriteHeader(f.scriptCode)
		fmt.Fprint(w, f.script)
	case r.Method == http.MethodPost && r.URL.Path == "/api/user-api.php":
		f.loginCalls.Add(1)
		_ = r.ParseForm()
		f.lastForm = r.PostForm
		f.lastLoginQS = r.URL.Query()
		w.Header().Set("Location", "/v1.2/")
		w.WriteHeader(f.loginCode)
		fmt.Fprint(w, f.loginBody)
	case r.Method == http.MethodGet && r.URL.Path == "/v1.2/":
		f.statusCalls.Add(1)
		cookie, err := r.Cookie(testCookieName)
		if err != nil || cookie.Value != testSessionKey || f.rejectNext > 0 {
			if f.rejectNext > 0 {
				f.rejectNext--
			}
			fmt.Fprint(w, "<html><body>Please log in</body></html>")
			return
		}
		fmt.Fprint(w, f.statusBody)
	default:
		http.NotFound(w, r)
	}
}

func accountScript(serviceURL, productKey, cookieName string, years int) string {
	return strings.Join([]string{
		`var prodKey = "` + productKey + `";`,
		`var serviceURL = location.protocol + "` + serviceURL + `";`,
		`function onLogin(response) {`,
		`    setCookie("` + cookieName + `", response.sessionKey, ` + strconv.Itoa(years) + `);`,
		`}`,
	}, "\n")
}

func statusPage(isMetric int, devices string) string {
	return "<html><head><script>\n" +
		"userProviderID = 1234;userGatewaysList = '5678';var isMetric = " + strconv.Itoa(isMetric) +
		";var devicesInitData = " + devices + ";var refreshInt = 60000;\n" +
		"</script></head></html>"
}

func newTestClient(t *testing.T, f *fakeUpstream) *Client {
	t.Helper()
	c, err := New(&config.LacrosseConfig{
		BaseURL:            f.baseURL(),
		Username:           "me@example.com",
		Password:           "hunter2",
		InsecureSkipVerify: true,
		MaxLoginAttempts:   3,
		HTTPTimeout:        5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.logger = zaptest.NewLogger(t)
	return c
}
