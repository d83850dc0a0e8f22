package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                            "/",
		"/metrics":                    "/metrics",
		"/v1/programs":                "/v1/programs",
		"/v1/programs/Umbrella Corp":  "/v1/programs/:name",
		"/v1/programs/Acme/employees": "/v1/programs/:name/employees",
		"/v1/programs/Acme/employees/0a0b": "/v1/programs/:name/employees/:addr",
		"/v1/programs/Acme/other/extra":    "/v1/programs/Acme/other/extra",
		"/v1/claims?limit=10":              "/v1/claims",
		"/v1/claims":                       "/v1/claims",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
