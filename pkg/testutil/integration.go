package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite provides base functionality for binding tests that
// need a scratch directory or an external system
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	tempDir, err := os.MkdirTemp("", "machconn-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()

	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}

	s.T().Logf("suite completed in %v", time.Since(s.startTime))
}

// Context returns the test context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the temporary directory path
func (s *IntegrationTestSuite) TempDir() string {
	return s.tempDir
}

// CreateTempFile creates a temporary file with content
func (s *IntegrationTestSuite) CreateTempFile(name string, content []byte) string {
	path := filepath.Join(s.tempDir, name)
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(path), 0o755))
	err := os.WriteFile(path, content, 0o644)
	require.NoError(s.T(), err)
	return path
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// RequireEnv returns the value of an environment variable naming an external
// system, skipping the test when it is not set
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	IntegrationTest(t)
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}

// WriteLines writes lines to dir/name, one per line, and returns the path
func WriteLines(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
