package backup

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"academyops/internal/alerting"
	"academyops/pkg/core/config"
	"academyops/pkg/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dumpSQL = "CREATE TABLE players (id INT);\nINSERT INTO players VALUES (1),(2),(3);\n"

type fakeDumper struct {
	mu       sync.Mutex
	content  string
	dumpErr  error
	block    chan struct{}
	entered  chan struct{}
	restored []string
}

func (f *fakeDumper) Database() string { return "academy" }

func (f *fakeDumper) Dump(ctx context.Context, w io.Writer) error {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	if f.dumpErr != nil {
		_, _ = io.WriteString(w, "partial")
		return f.dumpErr
	}
	_, err := io.WriteString(w, f.content)
	return err
}

func (f *fakeDumper) Restore(ctx context.Context, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, string(b))
	return nil
}

type fakeUploader struct {
	err   error
	names []string
}

func (f *fakeUploader) Name() string { return "fake" }

func (f *fakeUploader) Upload(_ context.Context, localPath, name string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	f.names = append(f.names, name)
	return "fake://" + name, nil
}

type fakeAlerter struct {
	ids []string
	sev []alerting.Severity
}

func (f *fakeAlerter) TriggerAlert(id string, sev alerting.Severity, _ map[string]interface{}) error {
	f.ids = append(f.ids, id)
	f.sev = append(f.sev, sev)
	return nil
}

type fakeEvents struct {
	errors []string
	audits []string
}

func (f *fakeEvents) LogError(_ context.Context, err error, msg string, _ map[string]interface{}) {
	f.errors = append(f.errors, msg+": "+err.Error())
}

func (f *fakeEvents) LogAudit(_ context.Context, action, resource string, _ map[string]interface{}) {
	f.audits = append(f.audits, action)
}

type testEnv struct {
	s       *Scheduler
	dumper  *fakeDumper
	alerter *fakeAlerter
	events  *fakeEvents
	dir     string
	now     time.Time
}

func newTestEnv(t *testing.T, mutate func(c *config.BackupConfig)) *testEnv {
	t.Helper()
	env := &testEnv{
		dumper:  &fakeDumper{content: dumpSQL},
		alerter: &fakeAlerter{},
		events:  &fakeEvents{},
		dir:     t.TempDir(),
		now:     time.Date(2026, 10, 19, 2, 0, 0, 123*int(time.Millisecond), time.UTC),
	}
	cfg := config.BackupConfig{Dir: env.dir}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewScheduler(Config{
		Backup:  cfg,
		Dumper:  env.dumper,
		Alerter: env.alerter,
		Events:  env.events,
		Clock:   func() time.Time { return env.now },
	})
	require.NoError(t, err)
	env.s = s
	return env
}

func TestBuildAndParseName(t *testing.T) {
	ts := time.Date(2026, 10, 19, 2, 0, 5, 42*int(time.Millisecond), time.UTC)
	name := BuildName("academy_prod", TypeWeekly, ts, true, true)
	assert.Equal(t, "academy_prod_weekly_2026-10-19T02-00-05-042Z.sql.gz.enc", name)

	rec, ok := ParseName(name)
	require.True(t, ok)
	assert.Equal(t, "academy_prod", rec.Database)
	assert.Equal(t, TypeWeekly, rec.Type)
	assert.True(t, rec.Compressed)
	assert.True(t, rec.Encrypted)
	assert.True(t, ts.Equal(rec.CreatedAt))

	plain, ok := ParseName("academy_manual_2026-10-19T02-00-05-042Z.sql")
	require.True(t, ok)
	assert.False(t, plain.Compressed)
	assert.False(t, plain.Encrypted)

	for _, bad := range []string{
		"academy_hourly_2026-10-19T02-00-05-042Z.sql",
		"academy_daily_2026-10-19T02-00-05-042Z.sql.part",
		"academy_daily_2026-10-19.sql",
		"notes.txt",
	} {
		_, ok := ParseName(bad)
		assert.False(t, ok, bad)
	}
}

func TestEncryptionRoundTrip(t *testing.T) {
	sizes := []int{0, 10, chunkSize, chunkSize + 1, 3*chunkSize - 7}
	for _, size := range sizes {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			plain := make([]byte, size)
			_, _ = rand.Read(plain)

			var buf bytes.Buffer
			w, err := newEncryptWriter(&buf, "s3cret")
			require.NoError(t, err)
			// 分多次写入
			for off := 0; off < len(plain); off += 1000 {
				end := min(off+1000, len(plain))
				_, err := w.Write(plain[off:end])
				require.NoError(t, err)
			}
			require.NoError(t, w.Close())

			r, err := newDecryptReader(bytes.NewReader(buf.Bytes()), "s3cret")
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, plain, got)
		})
	}
}

func TestDecryptRejectsWrongKeyAndTruncation(t *testing.T) {
	plain := bytes.Repeat([]byte("academy"), 30000)
	var buf bytes.Buffer
	w, err := newEncryptWriter(&buf, "right")
	require.NoError(t, err)
	_, err = w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := newDecryptReader(bytes.NewReader(buf.Bytes()), "wrong")
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrCorrupted)

	// 截掉最后一个分块
	truncated := buf.Bytes()[:buf.Len()-200]
	r, err = newDecryptReader(bytes.NewReader(truncated), "right")
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrCorrupted)

	_, err = newDecryptReader(strings.NewReader("plain sql dump, not encrypted"), "right")
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestCreateAndRestoreCompressedEncrypted(t *testing.T) {
	env := newTestEnv(t, func(c *config.BackupConfig) {
		c.Compress = true
		c.EncryptionKey = "backup-key"
	})

	res, err := env.s.CreateBackup(context.Background(), TypeDaily)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Record)
	assert.Equal(t, "academy_daily_2026-10-19T02-00-00-123Z.sql.gz.enc", res.Record.Name)
	assert.True(t, res.Record.Compressed)
	assert.True(t, res.Record.Encrypted)

	raw, err := os.ReadFile(res.Record.Path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "CREATE TABLE")

	require.NoError(t, env.s.RestoreBackup(context.Background(), res.Record.Name))
	require.Len(t, env.dumper.restored, 1)
	assert.Equal(t, dumpSQL, env.dumper.restored[0])
	assert.Equal(t, []string{"backup_created", "backup_restored"}, env.events.audits)

	status := env.s.GetServiceStatus()
	assert.Equal(t, 1, status.Stats.Successful)
	assert.Equal(t, 1, status.Backups)
	require.NotNil(t, status.Latest)
	assert.Equal(t, res.Record.Name, status.Latest.Name)
	assert.Len(t, status.Jobs, 4)
}

func TestCreatePlainBackup(t *testing.T) {
	env := newTestEnv(t, nil)

	res, err := env.s.CreateBackup(context.Background(), TypeManual)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, strings.HasSuffix(res.Record.Name, ".sql"))

	raw, err := os.ReadFile(res.Record.Path)
	require.NoError(t, err)
	assert.Equal(t, dumpSQL, string(raw))

	_, err = env.s.CreateBackup(context.Background(), Type("hourly"))
	assert.Error(t, err)
}

func TestDumpFailureAlertsAndCleansUp(t *testing.T) {
	env := newTestEnv(t, func(c *config.BackupConfig) { c.Compress = true })
	env.dumper.dumpErr = errors.New("mysqldump: access denied")

	res, err := env.s.CreateBackup(context.Background(), TypeDaily)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "access denied")

	entries, err := os.ReadDir(env.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "失败后不应留下临时文件")

	assert.Equal(t, []string{AlertFailed}, env.alerter.ids)
	assert.Equal(t, []alerting.Severity{alerting.SeverityCritical}, env.alerter.sev)
	require.Len(t, env.events.errors, 1)

	stats := env.s.GetServiceStatus().Stats
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Successful)
	assert.Contains(t, stats.LastError, "access denied")
}

func TestRemoteUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	up := &fakeUploader{}
	env.s.uploader = up

	res, err := env.s.CreateBackup(context.Background(), TypeWeekly)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "fake://"+res.Record.Name, res.Record.Remote)
	assert.Equal(t, []string{res.Record.Name}, up.names)

	up.err = errors.New("bucket not found")
	env.now = env.now.Add(time.Second)
	res, err = env.s.CreateBackup(context.Background(), TypeWeekly)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "bucket not found")
	// 上传失败时本地文件保留
	_, statErr := os.Stat(res.Record.Path)
	assert.NoError(t, statErr)

	stats := env.s.GetServiceStatus().Stats
	assert.Equal(t, 1, stats.RemoteUploads)
	assert.Equal(t, 1, stats.RemoteFailures)
	assert.Equal(t, "fake", env.s.GetServiceStatus().Remote)
}

func TestConcurrentBackupIsRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	env.dumper.block = make(chan struct{})
	env.dumper.entered = make(chan struct{})

	done := make(chan Result)
	go func() {
		res, _ := env.s.CreateBackup(context.Background(), TypeDaily)
		done <- res
	}()
	<-env.dumper.entered
	assert.True(t, env.s.GetServiceStatus().InProgress)

	_, err := env.s.CreateBackup(context.Background(), TypeManual)
	assert.ErrorIs(t, err, scheduler.ErrJobRunning)

	close(env.dumper.block)
	res := <-done
	assert.True(t, res.Success)
}

func TestRestoreRejectsUnknownFiles(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Error(t, env.s.RestoreBackup(context.Background(), "../../etc/passwd"))
	assert.Error(t, env.s.RestoreBackup(context.Background(), "academy_daily_2026-10-19T02-00-00-123Z.sql"))

	enc := BuildName("academy", TypeDaily, env.now, false, true)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, enc), []byte("x"), 0o600))
	err := env.s.RestoreBackup(context.Background(), enc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "密钥")
}

func TestCleanupOldBackups(t *testing.T) {
	env := newTestEnv(t, nil)
	day := 24 * time.Hour

	files := []struct {
		typ    Type
		age    time.Duration
		remove bool
	}{
		{TypeDaily, 2 * day, false},
		{TypeDaily, 8 * day, true},
		{TypeWeekly, 20 * day, false},
		{TypeWeekly, 29 * day, true},
		{TypeMonthly, 100 * day, false},
		{TypeMonthly, 361 * day, true},
		{TypeManual, 1000 * day, false},
		{TypeFull, 1000 * day, false},
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = BuildName("academy", f.typ, env.now.Add(-f.age), false, false)
		path := filepath.Join(env.dir, names[i])
		require.NoError(t, os.WriteFile(path, []byte("--"), 0o600))
		mod := env.now.Add(-f.age)
		require.NoError(t, os.Chtimes(path, mod, mod))
	}
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "README"), []byte("keep"), 0o600))

	result, err := env.s.CleanupOldBackups()
	require.NoError(t, err)
	assert.Len(t, result.Removed, 3)
	assert.Equal(t, 5, result.Kept)

	for i, f := range files {
		_, err := os.Stat(filepath.Join(env.dir, names[i]))
		assert.Equal(t, f.remove, os.IsNotExist(err), names[i])
	}
	_, err = os.Stat(filepath.Join(env.dir, "README"))
	assert.NoError(t, err)

	list, err := env.s.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].CreatedAt.After(list[i-1].CreatedAt))
	}
	assert.Equal(t, 3, env.s.GetServiceStatus().Stats.CleanupRemoved)
}

func TestRecentResultsBounded(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < maxResults+5; i++ {
		env.now = env.now.Add(time.Second)
		_, err := env.s.CreateBackup(context.Background(), TypeManual)
		require.NoError(t, err)
	}
	status := env.s.GetServiceStatus()
	assert.Len(t, status.Recent, maxResults)
	assert.Equal(t, maxResults+5, status.Stats.TotalBackups)
	assert.True(t, status.Recent[0].StartTime.After(status.Recent[1].StartTime))
}

func TestNewSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(Config{Backup: config.BackupConfig{Dir: t.TempDir()}})
	assert.Error(t, err)

	_, err = NewScheduler(Config{
		Backup: config.BackupConfig{Dir: t.TempDir(), DailyCron: "every day"},
		Dumper: &fakeDumper{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup-daily")

	_, err = NewSFTPUploader(config.SftpConfig{Host: "backup.example.com"})
	assert.Error(t, err)
	_, err = NewSFTPUploader(config.SftpConfig{Host: "backup.example.com", User: "ops"})
	assert.Error(t, err)
	u, err := NewSFTPUploader(config.SftpConfig{Host: "backup.example.com", User: "ops", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "sftp", u.Name())
}

func TestExecDumperArgs(t *testing.T) {
	my := NewExecDumper(config.Database{Host: "db", User: "root", Password: "pw", DbName: "academy"}, "", "")
	assert.Equal(t, "mysqldump", my.dumpBinary)
	assert.Contains(t, my.dumpArgs(), "--single-transaction")
	assert.Contains(t, my.dumpArgs(), "3306")
	assert.NotContains(t, strings.Join(my.dumpArgs(), " "), "pw")
	assert.Contains(t, my.env(), "MYSQL_PWD=pw")

	pg := NewExecDumper(config.Database{Driver: "postgres", Host: "db", Port: 6432, User: "app", Password: "pw", DbName: "academy"}, "", "")
	assert.Equal(t, "pg_dump", pg.dumpBinary)
	assert.Equal(t, "psql", pg.restoreBinary)
	assert.Contains(t, pg.dumpArgs(), "6432")
	assert.Contains(t, pg.env(), "PGPASSWORD=pw")
}

func TestExecDumperReportsCommandFailure(t *testing.T) {
	d := NewExecDumper(config.Database{Host: "db", DbName: "academy"}, "academyops-no-such-binary", "")
	err := d.Dump(context.Background(), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "academyops-no-such-binary")
}
