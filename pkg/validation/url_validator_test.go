package validation

import (
	"strings"
	"testing"

	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
)

func TestNewURLValidator(t *testing.T) {
	validator := NewURLValidator()
	if validator == nil {
		t.Fatal("Expected non-nil URL validator")
	}

	expectedSchemes := []string{"http", "https", "azblob"}
	if len(validator.allowedSchemes) != len(expectedSchemes) {
		t.Errorf("Expected %d schemes, got %d", len(expectedSchemes), len(validator.allowedSchemes))
	}
	for i, scheme := range expectedSchemes {
		if validator.allowedSchemes[i] != scheme {
			t.Errorf("Expected scheme %s, got %s", scheme, validator.allowedSchemes[i])
		}
	}
}

func TestValidateSourceURL(t *testing.T) {
	validator := NewURLValidator()

	tests := []struct {
		name  string
		url   string
		valid bool
	}{
		{"HTTP image", "http://example.com/tile.jpg", true},
		{"HTTPS catalogue", "https://cdn.example.com/catalogues/2024.pdf", true},
		{"Blob reference", "azblob://samples/batch-1/tile.png", true},
		{"IP host", "http://192.168.1.1/tile.jpg", true},
		{"Empty", "", false},
		{"Whitespace", "   ", false},
		{"FTP", "ftp://example.com/tile.jpg", false},
		{"No host", "https:///tile.jpg", false},
		{"Blob without name", "azblob://samples/", false},
		{"Bad escape", "http://example.com/%zz", false},
		{"Too long", "https://example.com/" + strings.Repeat("a", MaxURLLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateSourceURL(tt.url)
			if tt.valid && err != nil {
				t.Errorf("Expected %q to be valid, got %v", tt.url, err)
			}
			if !tt.valid {
				if err == nil {
					t.Errorf("Expected %q to be rejected", tt.url)
				} else if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
					t.Errorf("Expected validation error, got %v", err)
				}
			}
		})
	}
}

func TestValidateSourceURL_RestrictedHosts(t *testing.T) {
	validator := NewURLValidatorWithOptions([]string{"https", "azblob"}, []string{"cdn.example.com"})

	if err := validator.ValidateSourceURL("https://cdn.example.com/tile.jpg"); err != nil {
		t.Errorf("Expected allowed host to pass, got %v", err)
	}
	if err := validator.ValidateSourceURL("https://CDN.example.com:443/tile.jpg"); err != nil {
		t.Errorf("Expected host match to ignore case and port, got %v", err)
	}
	if err := validator.ValidateSourceURL("https://evil.com/tile.jpg"); err == nil {
		t.Error("Expected other host to be rejected")
	}
	if err := validator.ValidateSourceURL("azblob://samples/tile.png"); err != nil {
		t.Errorf("Expected blob references to bypass host restrictions, got %v", err)
	}
	if err := validator.ValidateSourceURL("http://cdn.example.com/tile.jpg"); err == nil {
		t.Error("Expected http to be rejected when only https is allowed")
	}
}
