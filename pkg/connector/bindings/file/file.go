// Package file binds line oriented files. Lines of the read files are
// delivered on a channel named after the file; written values are appended
// to the write file, one line each.
//
// Settings:
//
//	READ_FILES     files, directories or regular expressions over file
//	               paths, separated by ';' or ':'
//	WRITE_FILES    output file, or a directory receiving one
//	               machconn_<millis>[_<channel>].txt file per channel
//	DATA_TIMEDIFF  fixed delay between delivered lines in milliseconds
//	PATTERN        optional regular expression with named groups parsing lines
//	TEMPLATE       optional {field} template formatting written records
//
// With a notification interval of 0 the files are watched and new lines are
// pushed as they are appended. Files ending in a compression extension
// (.gz, .zst, .lz4, .sz, .s2, .deflate) are decompressed while reading and
// compressed while writing.
package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/machconn/pkg/compression"
	"github.com/ajitpratap0/machconn/pkg/connector/base"
	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Type is the registry name of the binding
const Type = "file"

const (
	SettingReadFiles    = "READ_FILES"
	SettingWriteFiles   = "WRITE_FILES"
	SettingDataTimeDiff = "DATA_TIMEDIFF"
	SettingPattern      = "PATTERN"
	SettingTemplate     = "TEMPLATE"
)

const (
	outPrefix = "machconn_"
	outSuffix = ".txt"
)

// Capabilities of the binding
var Capabilities = core.Capabilities{
	SupportsEvents:             true,
	SupportsDataTimeDifference: true,
	SpecificSettings:           []string{SettingReadFiles, SettingWriteFiles, SettingDataTimeDiff, SettingPattern, SettingTemplate},
	TriggerQueries:             []core.QueryKind{core.QueryKindPattern},
}

type readFile struct {
	path      string
	channel   string
	algorithm compression.Algorithm
	offset    int64
	exhausted bool
}

type output struct {
	file *os.File
	w    io.WriteCloser
}

// Driver reads and writes line files
type Driver struct {
	host  base.Host[string]
	fixed time.Duration
	watch bool

	readMu sync.Mutex
	files  []*readFile

	writeMu   sync.Mutex
	writeTo   string
	writeDir  bool
	outputs   map[string]*output
	outFailed bool
	now       func() time.Time
}

var (
	_ base.Driver[string]      = (*Driver)(nil)
	_ base.QueryDriver[string] = (*Driver)(nil)
)

// NewDriver creates a file driver
func NewDriver() *Driver {
	return &Driver{now: time.Now}
}

func (d *Driver) Open(ctx context.Context, host base.Host[string]) error {
	params := host.Parameter()
	paths, err := ResolveReadFiles(params.SpecificStringSetting(SettingReadFiles, ""))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		host.Logger().Warn("no read files configured")
	}

	files := make([]*readFile, 0, len(paths))
	for _, p := range paths {
		files = append(files, &readFile{
			path:      p,
			channel:   filepath.Base(p),
			algorithm: compression.AlgorithmForPath(p),
		})
	}

	d.host = host
	d.fixed = time.Duration(params.SpecificIntSetting(SettingDataTimeDiff, 0)) * time.Millisecond
	d.readMu.Lock()
	d.files = files
	d.readMu.Unlock()

	d.writeMu.Lock()
	d.writeTo = params.SpecificStringSetting(SettingWriteFiles, "")
	d.writeDir = false
	if d.writeTo != "" {
		if info, err := os.Stat(d.writeTo); err == nil && info.IsDir() {
			d.writeDir = true
		}
	}
	d.outputs = make(map[string]*output)
	d.outFailed = false
	d.writeMu.Unlock()

	host.Logger().Info("files connected",
		zap.Strings("read_files", paths),
		zap.String("write_files", d.writeTo),
		zap.Duration("data_time_difference", d.fixed))

	d.watch = params.NotificationInterval() == 0 && len(files) > 0
	if d.watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return errors.NewIO(err, "cannot watch read files")
		}
		for _, dir := range watchDirs(paths) {
			if err := watcher.Add(dir); err != nil {
				_ = watcher.Close()
				return errors.NewIO(err, "cannot watch "+dir)
			}
		}
		if !host.Go(func(ctx context.Context) { d.watchLoop(ctx, watcher) }) {
			_ = watcher.Close()
		}
	}
	return nil
}

// watchDirs returns the parent directories of paths; editors and log
// rotation replace files, so directories are watched instead of files
func watchDirs(paths []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, p := range paths {
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func (d *Driver) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	d.drainAndReport(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !d.isReadFile(event.Name) {
				continue
			}
			d.drainAndReport(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.host.Error("file watcher failed", err)
		}
	}
}

func (d *Driver) drainAndReport(ctx context.Context) {
	if err := d.drain(ctx); err != nil && ctx.Err() == nil {
		d.host.Error("reading appended lines failed", err)
	}
}

func (d *Driver) isReadFile(name string) bool {
	clean := filepath.Clean(name)
	d.readMu.Lock()
	defer d.readMu.Unlock()
	for _, f := range d.files {
		if f.path == clean {
			return true
		}
	}
	return false
}

func (d *Driver) Close(context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	var errs []error
	for channel, out := range d.outputs {
		if err := out.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing output of channel %q: %w", channel, err))
		}
	}
	d.outputs = nil
	if len(errs) > 0 {
		return errors.NewIO(errs[0], "closing write files")
	}
	return nil
}

// Read delivers the lines appended since the last read
func (d *Driver) Read(ctx context.Context) error {
	return d.drain(ctx)
}

func (d *Driver) drain(ctx context.Context) error {
	d.readMu.Lock()
	defer d.readMu.Unlock()
	pacer := d.host.Pacer(0).WithFixedDelay(d.fixed)
	for _, f := range d.files {
		if err := d.drainFile(ctx, f, pacer); err != nil {
			return err
		}
	}
	return nil
}

// drainFile delivers the complete lines after f.offset. Compressed files are
// read once as a whole.
func (d *Driver) drainFile(ctx context.Context, f *readFile, pacer *base.Pacer[string]) error {
	if f.exhausted {
		return nil
	}
	fh, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIO(err, "opening "+f.path)
	}
	defer fh.Close()

	if f.algorithm != compression.None {
		r, err := compression.NewReader(f.algorithm, fh)
		if err != nil {
			return errors.NewIO(err, "decompressing "+f.path)
		}
		defer r.Close()
		f.exhausted = true
		return deliverLines(ctx, r, f.channel, pacer, nil)
	}

	if info, err := fh.Stat(); err == nil && info.Size() < f.offset {
		// truncated or rotated
		f.offset = 0
	}
	if _, err := fh.Seek(f.offset, io.SeekStart); err != nil {
		return errors.NewIO(err, "seeking "+f.path)
	}
	return deliverLines(ctx, fh, f.channel, pacer, &f.offset)
}

// deliverLines hands every newline terminated line of r to pacer. When
// offset is set, it advances past delivered lines and a trailing partial
// line is left for the next read.
func deliverLines(ctx context.Context, r io.Reader, channel string, pacer *base.Pacer[string], offset *int64) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF && offset != nil {
			return nil
		}
		if err != nil && err != io.EOF {
			return errors.NewIO(err, "reading "+channel)
		}
		if line != "" {
			if offset != nil {
				*offset += int64(len(line))
			}
			if derr := pacer.Deliver(ctx, channel, strings.TrimRight(line, "\r\n"), time.Time{}); derr != nil {
				return derr
			}
		}
		if err == io.EOF {
			return nil
		}
	}
}

// Query replays every line of the read files matching the pattern
func (d *Driver) Query(ctx context.Context, query core.TriggerQuery, pacer *base.Pacer[string]) error {
	q, ok := query.(*core.PatternTriggerQuery)
	if !ok {
		return errors.Newf(errors.ErrorTypeCapability, "file connector cannot answer %s queries", query.Kind())
	}
	pacer.WithFixedDelay(d.fixed)

	d.readMu.Lock()
	files := make([]readFile, len(d.files))
	for i, f := range d.files {
		files[i] = *f
	}
	d.readMu.Unlock()

	for _, f := range files {
		if err := replayFile(ctx, f, q, pacer); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(ctx context.Context, f readFile, q *core.PatternTriggerQuery, pacer *base.Pacer[string]) error {
	fh, err := os.Open(f.path)
	if err != nil {
		return errors.NewIO(err, "opening "+f.path)
	}
	defer fh.Close()
	r, err := compression.NewReader(f.algorithm, fh)
	if err != nil {
		return errors.NewIO(err, "decompressing "+f.path)
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !q.Matches(line) {
			continue
		}
		if err := pacer.Deliver(ctx, f.channel, line, time.Time{}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.NewIO(err, "reading "+f.path)
	}
	return nil
}

// Write appends data as one line to the output of channel
func (d *Driver) Write(_ context.Context, channel string, data string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if d.writeTo == "" {
		return errors.New(errors.ErrorTypeConfig, "no "+SettingWriteFiles+" configured")
	}
	out, err := d.output(channel)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(out.w, data+"\n"); err != nil {
		return errors.NewIO(err, "writing "+out.file.Name())
	}
	return nil
}

func (d *Driver) output(channel string) (*output, error) {
	if out, ok := d.outputs[channel]; ok {
		return out, nil
	}
	if d.outFailed {
		return nil, errors.New(errors.ErrorTypeIO, "output file could not be created")
	}
	path := d.writeTo
	if d.writeDir {
		path = filepath.Join(d.writeTo, OutputName(d.now(), channel))
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	alg := compression.AlgorithmForPath(path)
	if alg != compression.None {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0o644) //nolint:gosec // G304: path comes from the connector settings
	if err != nil {
		d.outFailed = true
		return nil, errors.NewIO(err, "creating "+path)
	}
	w, err := compression.NewWriter(alg, fh, compression.Default)
	if err != nil {
		_ = fh.Close()
		d.outFailed = true
		return nil, errors.NewIO(err, "compressing "+path)
	}
	out := &output{file: fh, w: w}
	d.outputs[channel] = out
	return out, nil
}

func (o *output) close() error {
	werr := o.w.Close()
	ferr := o.file.Close()
	if werr != nil {
		return werr
	}
	return ferr
}

// OutputName returns the name of the file written for channel when
// WRITE_FILES is a directory
func OutputName(t time.Time, channel string) string {
	name := outPrefix + fmt.Sprint(t.UnixMilli())
	if channel != "" {
		name += "_" + sanitize(channel)
	}
	return name + outSuffix
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// ResolveReadFiles expands the READ_FILES setting into a sorted list of
// files. Tokens are existing files, directories whose files are taken, or
// regular expressions matched against the paths in their parent directory.
// A token matching nothing is kept as a path and skipped while it does not
// exist.
func ResolveReadFiles(setting string) ([]string, error) {
	tokens := strings.FieldsFunc(setting, func(r rune) bool { return r == ';' || r == ':' })
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		info, err := os.Stat(token)
		switch {
		case err == nil && !info.IsDir():
			add(token)
		case err == nil:
			entries, err := os.ReadDir(token)
			if err != nil {
				return nil, errors.NewIO(err, "listing "+token)
			}
			for _, e := range entries {
				if !e.IsDir() {
					add(filepath.Join(token, e.Name()))
				}
			}
		default:
			matched := matchPattern(token)
			if len(matched) == 0 {
				add(token)
			}
			for _, m := range matched {
				add(m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// matchPattern treats token as a regular expression over the paths of its
// parent directory
func matchPattern(token string) []string {
	re, err := regexp.Compile("^" + token + "$")
	if err != nil {
		return nil
	}
	dir := filepath.Dir(token)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if re.MatchString(p) || re.MatchString(filepath.ToSlash(p)) {
			out = append(out, p)
		}
	}
	return out
}
