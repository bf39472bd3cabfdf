package lacrosse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// These patterns are tied to the upstream markup.
var (
	productKeyRegex    = regexp.MustCompile(`(?m)var\s+prodKey\s*=\s*"([^"]+)"`)
	serviceURLRegex    = regexp.MustCompile(`(?m)var\s+serviceURL\s*=[^"]*"([^"]+)"`)
	sessionCookieRegex = regexp.MustCompile(`(?m)setCookie\(\s*"([^"]+)"\s*,\s*response\.sessionKey\s*,\s*(\d+)`)
	statusMarkerRegex  = regexp.MustCompile(`(?m)^userProviderID = `)
	statusRegex        = regexp.MustCompile(`(?m)^userProviderID\s=\s(\d+);userGatewaysList\s=\s'(\d+)';var\sisMetric\s=\s(\d);var\sdevicesInitData\s=\s(.*}});var\srefreshInt`)
)

// bootstrap holds the values scraped from the account script.
type bootstrap struct {
	productKey  string
	serviceURL  string
	cookieName  string
	cookieYears int
}

// snapshot holds the values scraped from the status page.
type snapshot struct {
	providerID int
	gateways   string
	isMetric   bool
	devices    map[string]upstreamDevice
}

func extractBootstrap(body string) (bootstrap, error) {
	pk := productKeyRegex.FindStringSubmatch(body)
	if pk == nil {
		return bootstrap{}, fmt.Errorf("%w: prodKey not found", ErrParse)
	}
	su := serviceURLRegex.FindStringSubmatch(body)
	if su == nil {
		return bootstrap{}, fmt.Errorf("%w: serviceURL not found", ErrParse)
	}
	sc := sessionCookieRegex.FindStringSubmatch(body)
	if sc == nil {
		return bootstrap{}, fmt.Errorf("%w: session cookie call site not found", ErrParse)
	}
	years, err := strconv.Atoi(sc[2])
	if err != nil {
		return bootstrap{}, fmt.Errorf("%w: cookie expiry: %w", ErrParse, err)
	}
	return bootstrap{
		productKey:  pk[1],
		serviceURL:  su[1],
		cookieName:  sc[1],
		cookieYears: years,
	}, nil
}

func hasStatusMarker(body string) bool {
	return statusMarkerRegex.MatchString(body)
}

func extractSnapshot(body string) (snapshot, error) {
	m := statusRegex.FindStringSubmatch(body)
	if m == nil {
		return snapshot{}, fmt.Errorf("%w: status page did not match", ErrParse)
	}
	providerID, err := strconv.Atoi(m[1])
	if err != nil {
		return snapshot{}, fmt.Errorf("%w: userProviderID: %w", ErrParse, err)
	}
	devices := map[string]upstreamDevice{}
	if err := json.Unmarshal([]byte(m[4]), &devices); err != nil {
		return snapshot{}, fmt.Errorf("%w: devicesInitData: %w", ErrParse, err)
	}
	return snapshot{
		providerID: providerID,
		gateways:   m[2],
		isMetric:   m[3] != "0",
		devices:    devices,
	}, nil
}
