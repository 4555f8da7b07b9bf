package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"statement-reconciler/internal/models"
)

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "extrato.ofx")
	if err := os.WriteFile(validFile, []byte("OFXHEADER:100"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name        string
		filePath    string
		expectError bool
	}{
		{"valid file", validFile, false},
		{"empty path", "", true},
		{"non-existent file", "/non/existent/extrato.ofx", true},
		{"directory instead of file", tmpDir, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "statement file")

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateImportOptions(t *testing.T) {
	tmpDir := t.TempDir()
	ofxFile := filepath.Join(tmpDir, "extrato.ofx")
	txtFile := filepath.Join(tmpDir, "extrato.txt")
	for _, f := range []string{ofxFile, txtFile} {
		if err := os.WriteFile(f, []byte("OFXHEADER:100"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
	}

	valid := func() *importOptions {
		return &importOptions{file: ofxFile, month: 2, year: 2024, outputFormat: "console"}
	}

	tests := []struct {
		name          string
		modify        func(o *importOptions)
		expectError   bool
		errorContains string
		expectType    string
	}{
		{
			name:       "valid options",
			modify:     func(o *importOptions) {},
			expectType: "ofx",
		},
		{
			name:       "explicit type overrides extension",
			modify:     func(o *importOptions) { o.file = txtFile; o.fileType = "OFX" },
			expectType: "ofx",
		},
		{
			name:          "missing file",
			modify:        func(o *importOptions) { o.file = "" },
			expectError:   true,
			errorContains: "statement file is required",
		},
		{
			name:          "directory instead of file",
			modify:        func(o *importOptions) { o.file = tmpDir },
			expectError:   true,
			errorContains: "is a directory",
		},
		{
			name:          "unknown extension",
			modify:        func(o *importOptions) { o.file = txtFile },
			expectError:   true,
			errorContains: "use --type",
		},
		{
			name:          "month out of range",
			modify:        func(o *importOptions) { o.month = 13 },
			expectError:   true,
			errorContains: "month",
		},
		{
			name:          "missing year",
			modify:        func(o *importOptions) { o.year = 0 },
			expectError:   true,
			errorContains: "year",
		},
		{
			name:          "invalid output format",
			modify:        func(o *importOptions) { o.outputFormat = "xml" },
			expectError:   true,
			errorContains: "invalid output format",
		},
		{
			name:          "confirm without account",
			modify:        func(o *importOptions) { o.confirm = true },
			expectError:   true,
			errorContains: "--confirm requires --account",
		},
		{
			name:       "confirm with account",
			modify:     func(o *importOptions) { o.confirm = true; o.account = "acc-1" },
			expectType: "ofx",
		},
		{
			name:          "missing output directory",
			modify:        func(o *importOptions) { o.outputFile = filepath.Join(tmpDir, "missing", "report.json") },
			expectError:   true,
			errorContains: "output directory does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid()
			tt.modify(opts)

			err := validateImportOptions(opts)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("expected error to contain '%s', got: %v", tt.errorContains, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if opts.fileType != tt.expectType {
				t.Errorf("expected file type %s, got %s", tt.expectType, opts.fileType)
			}
		})
	}
}

func TestImportRequest(t *testing.T) {
	opts := &importOptions{
		file:     "/tmp/statements/extrato-fev.ofx",
		fileType: "ofx",
		account:  "acc-1",
		month:    2,
		year:     2024,
	}

	req := opts.request([]byte("content"))

	if req.FileName != "extrato-fev.ofx" {
		t.Errorf("expected base name as file name, got %s", req.FileName)
	}
	if req.FileType != models.FileTypeOFX {
		t.Errorf("expected ofx, got %s", req.FileType)
	}
	if req.AccountID != "acc-1" || req.Month != 2 || req.Year != 2024 {
		t.Errorf("unexpected request: %+v", req)
	}
	if string(req.Content) != "content" {
		t.Errorf("content not passed through")
	}
}

func TestImportCommandHelp(t *testing.T) {
	cmd := importCmd

	for _, name := range []string{"account", "month", "year", "type", "output-format", "output-file", "no-auto-match", "confirm"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("%s flag not found", name)
		}
	}

	if reviewCmd.Flags().Lookup("confirm") != nil {
		t.Error("review should not have a confirm flag")
	}
	if reviewCmd.Flags().Lookup("import") == nil {
		t.Error("import flag not found on review")
	}

	var helpOutput bytes.Buffer
	cmd.SetOut(&helpOutput)
	defer cmd.SetOut(nil)
	cmd.Help()

	helpText := helpOutput.String()

	expectedSections := []string{
		"Usage:",
		"Examples:",
		"Flags:",
		"--account",
		"--month",
		"--confirm",
	}

	for _, section := range expectedSections {
		if !strings.Contains(helpText, section) {
			t.Errorf("help text should contain '%s'", section)
		}
	}
}

func TestParseLineID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"7", "L0007"},
		{"12", "L0012"},
		{"L0003", "L0003"},
		{"l0003", "L0003"},
		{"0", "0"},
		{"x", "X"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLineID(tt.input); got != tt.expected {
				t.Errorf("parseLineID(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
