//go:build integration

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "gocloud.dev/blob/s3blob"

	"github.com/multibar/networkkit/internal/store"
	"github.com/multibar/networkkit/internal/testutils"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Generate test data
	testFile := testutils.TestFile{
		Name: "test-file.bin",
		Size: 1024 * 1024, // 1MB
	}
	testFile.Data = testutils.GenerateTestData(t, testFile.Size)

	// Start HTTP server
	t.Log("Starting HTTP test server...")
	server := testutils.StartTestHTTPServer(t, []testutils.TestFile{testFile})
	defer server.Close()

	// Start Minio
	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "cli-test-bucket")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	missing := filepath.Join(t.TempDir(), "missing.env")
	source := server.URL + "/" + testFile.Name

	t.Run("download_to_bucket", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out")
		exitCode := run([]string{
			"download",
			"-env", missing,
			"-store", minio.BucketURL,
			"-background",
			"-output", out,
			source,
		})
		if exitCode != ExitSuccess {
			t.Fatalf("download failed with exit code %d", exitCode)
		}

		downloaded, err := os.ReadFile(filepath.Join(out, testFile.Name))
		if err != nil {
			t.Fatalf("read downloaded file: %v", err)
		}
		if !bytes.Equal(downloaded, testFile.Data) {
			t.Error("downloaded data mismatch")
		}
	})

	t.Run("station_store", func(t *testing.T) {
		s, code := openStation(ctx, &commonFlags{envPath: missing, storeURL: minio.BucketURL})
		if code != ExitSuccess {
			t.Fatalf("openStation: %d", code)
		}
		defer s.Close()

		req, err := s.request(source)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		results, err := s.perform(ctx, downloads(req, 1), []string{source}, false, nil)
		if err != nil {
			t.Fatalf("perform: %v", err)
		}
		location := results[0].Result.Location
		if location == "" {
			t.Fatalf("expected a stored location, got %v", results[0])
		}

		r, err := s.store.Open(ctx, location)
		if err != nil {
			t.Fatalf("open stored object: %v", err)
		}
		testutils.CompareReaderToData(t, r, testFile.Data)
		r.Close()

		if err := s.store.Remove(ctx, location); err != nil {
			t.Fatalf("remove: %v", err)
		}
		if _, err := s.store.Open(ctx, location); err == nil {
			t.Error("removed location should not open")
		} else if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}
