package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"mssql-backup-verify/internal/config"
)

func TestResolve(t *testing.T) {
	cfg := config.ArchiveConfig{}

	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"local path", "/backups/nightly.zip", "*archive.LocalSource", false},
		{"file url", "file:///backups/nightly.zip", "*archive.LocalSource", false},
		{"s3 url", "s3://bucket/nightly.zip", "*archive.S3Source", false},
		{"gcs url", "gs://bucket/nightly.zip", "*archive.GCSSource", false},
		{"azure url", "azblob://container/nightly.zip", "*archive.AzureSource", false},
		{"unknown scheme", "ftp://host/nightly.zip", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, err := Resolve(tt.url, cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			var got string
			switch source.(type) {
			case *LocalSource:
				got = "*archive.LocalSource"
			case *S3Source:
				got = "*archive.S3Source"
			case *GCSSource:
				got = "*archive.GCSSource"
			case *AzureSource:
				got = "*archive.AzureSource"
			}
			if got != tt.want {
				t.Errorf("Resolve() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLocalSourceFetch(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "nightly.zip")
	if err := os.WriteFile(archivePath, []byte("zip bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	source := &LocalSource{}

	got, err := source.Fetch(context.Background(), archivePath, tmp)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got != archivePath {
		t.Errorf("Fetch() = %q, want passthrough %q", got, archivePath)
	}

	if _, err := source.Fetch(context.Background(), filepath.Join(tmp, "missing.zip"), tmp); err == nil {
		t.Error("expected an error for a missing archive")
	}
	if _, err := source.Fetch(context.Background(), tmp, tmp); err == nil {
		t.Error("expected an error for a directory path")
	}
}

func TestSplitObjectURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"bucket and key", "s3://backups/nightly/a.zip", "backups", "nightly/a.zip", false},
		{"missing key", "s3://backups", "", "", true},
		{"missing bucket", "s3:///a.zip", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := splitObjectURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitObjectURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("splitObjectURL() = (%q, %q), want (%q, %q)", bucket, key, tt.wantBucket, tt.wantKey)
			}
		})
	}
}
