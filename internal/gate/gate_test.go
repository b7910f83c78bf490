package gate

import (
	"net/http"
	"testing"
)

func TestAuthorizeReadOnlyFlag(t *testing.T) {
	cases := []struct {
		name     string
		value    string
		readOnly bool
	}{
		{"exact true", "true", true},
		{"mixed case", "True", true},
		{"padded", "  true ", true},
		{"false", "false", false},
		{"garbage", "yes", false},
		{"numeric", "1", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.value != "" {
				h.Set("x-read-only", tc.value)
			}
			grant := Authorize(h)
			if grant.ReadOnly != tc.readOnly {
				t.Errorf("value %q: ReadOnly = %v, want %v", tc.value, grant.ReadOnly, tc.readOnly)
			}
		})
	}
}

func TestAuthorizeMissingHeaderIsReadWrite(t *testing.T) {
	grant := Authorize(http.Header{})
	if grant.ReadOnly {
		t.Fatal("absent header must imply read-write")
	}
}

func TestAuthorizeIdentityHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("x-user-id", "user-9")
	h.Set("x-user-name", "Ada")
	grant := Authorize(h)
	if grant.UserID != "user-9" || grant.UserName != "Ada" {
		t.Errorf("identity = %q/%q, want user-9/Ada", grant.UserID, grant.UserName)
	}
}
