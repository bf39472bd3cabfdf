package lacrosse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBootstrap(t *testing.T) {
	t.Parallel()
	body := accountScript("//decent.example.com/ws/", "KEY1", "sess", 20)

	bs, err := extractBootstrap(body)
	require.NoError(t, err)
	assert.Equal(t, bootstrap{
		productKey:  "KEY1",
		serviceURL:  "//decent.example.com/ws/",
		cookieName:  "sess",
		cookieYears: 20,
	}, bs)
}

func TestExtractBootstrap_Whitespace(t *testing.T) {
	t.Parallel()
	body := "var   prodKey=\"K\";\nvar serviceURL =\n  \"//h/\";\nsetCookie( \"c\" ,response.sessionKey,  3 );"

	bs, err := extractBootstrap(body)
	require.NoError(t, err)
	assert.Equal(t, "K", bs.productKey)
	assert.Equal(t, "//h/", bs.serviceURL)
	assert.Equal(t, "c", bs.cookieName)
	assert.Equal(t, 3, bs.cookieYears)
}

func TestExtractBootstrap_ServiceURLForms(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"plain literal":         `var serviceURL = "//h/";`,
		"protocol prefix":       `var serviceURL = location.protocol + "//h/";`,
		"window protocol":       `var serviceURL=window.location.protocol+"//h/";`,
		"prefix across newline": "var serviceURL = location.protocol +\n    \"//h/\";",
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			body := "var prodKey = \"K\";\n" + line + "\nsetCookie(\"c\", response.sessionKey, 1);"

			bs, err := extractBootstrap(body)
			require.NoError(t, err)
			assert.Equal(t, "//h/", bs.serviceURL)
		})
	}
}

func TestExtractBootstrap_Missing(t *testing.T) {
	t.Parallel()
	_, err := extractBootstrap(`var serviceURL = "//h/"; setCookie("c", response.sessionKey, 1)`)
	assert.ErrorIs(t, err, ErrParse)
}

func TestHasStatusMarker(t *testing.T) {
	t.Parallel()
	assert.True(t, hasStatusMarker("<script>\nuserProviderID = 1;"))
	assert.False(t, hasStatusMarker("<script> userProviderID = 1;"))
	assert.False(t, hasStatusMarker("<html>login</html>"))
}

func TestExtractSnapshot(t *testing.T) {
	t.Parallel()
	body := statusPage(0, `{"k":{"device_id":"X","device_name":"N","obs":[{"ambient_temp":1,"u_timestamp":2}]}}`)

	snap, err := extractSnapshot(body)
	require.NoError(t, err)
	assert.Equal(t, 1234, snap.providerID)
	assert.Equal(t, "5678", snap.gateways)
	assert.False(t, snap.isMetric)
	require.Contains(t, snap.devices, "k")
	assert.Equal(t, flexString("X"), snap.devices["k"].DeviceID)
	require.Len(t, snap.devices["k"].Obs, 1)
	assert.Equal(t, flexFloat(2), snap.devices["k"].Obs[0].Timestamp)
}

func TestFlexFloat(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		in      string
		want    float64
		wantErr bool
	}{
		"number":        {in: `12.5`, want: 12.5},
		"string":        {in: `"12.5"`, want: 12.5},
		"empty string":  {in: `""`, want: 0},
		"null":          {in: `null`, want: 0},
		"true":          {in: `true`, want: 1},
		"false":         {in: `false`, want: 0},
		"garbage":       {in: `"abc"`, wantErr: true},
		"object":        {in: `{}`, wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var f flexFloat
			err := json.Unmarshal([]byte(tt.in), &f)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, float64(f))
		})
	}
}
