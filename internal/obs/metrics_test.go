package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/":                                     "/",
		"/metrics":                              "/metrics",
		"/api/clients/":                         "/api/clients",
		"/api/external/aml/checks":              "/api/external/aml/checks",
		"/api/external/aml/checks?check_id=abc": "/api/external/aml/checks",
		"/api/external/aml/checks/abc":          "/api/external/aml/checks/:id",
		"/api/external/aml/checks/abc/extra":    "/api/external/aml/checks/abc/extra",
		"/api/gdpr/export":                      "/api/gdpr/export",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
