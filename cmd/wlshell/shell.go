package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/wearlevel/pkg/common/log"
	"github.com/KevoDB/wearlevel/pkg/config"
	"github.com/KevoDB/wearlevel/pkg/medium"
	"github.com/KevoDB/wearlevel/pkg/record"
	"github.com/KevoDB/wearlevel/pkg/snapshot"
	"github.com/KevoDB/wearlevel/pkg/stats"
	"github.com/KevoDB/wearlevel/pkg/telemetry"
	"github.com/KevoDB/wearlevel/pkg/wearlevel"
)

var errNotOpen = errors.New("no medium open")

// session is the shell's open medium and the store over it
type session struct {
	cfg       *config.Config
	configDir string
	tel       telemetry.Telemetry
	logger    log.Logger
	out       io.Writer

	path      string
	medium    medium.Medium
	closer    io.Closer
	store     *wearlevel.Store
	collector *stats.AtomicCollector
}

func newSession(cfg *config.Config, configDir string, tel telemetry.Telemetry, logger log.Logger, out io.Writer) *session {
	return &session{
		cfg:       cfg,
		configDir: configDir,
		tel:       tel,
		logger:    logger,
		out:       out,
	}
}

func (s *session) isOpen() bool {
	return s.store != nil
}

func (s *session) name() string {
	if s.path != "" {
		return s.path
	}
	return string(s.cfg.Medium.Kind)
}

// open opens the configured medium, at path if one is given, and recovers
// the store over it
func (s *session) open(path string) error {
	if s.isOpen() {
		if err := s.close(); err != nil {
			return err
		}
	}

	mc := s.cfg.Medium
	if path != "" {
		mc.Path = path
	}

	m, closer, err := medium.Open(mc)
	if err != nil {
		return err
	}

	collector := stats.NewAtomicCollector()
	store, err := wearlevel.New(s.cfg, m,
		wearlevel.WithLogger(s.logger.WithField("medium", mc.Path)),
		wearlevel.WithStats(collector),
		wearlevel.WithTelemetry(s.tel),
	)
	if err != nil {
		closer.Close()
		return err
	}

	if err := store.Recover(); err != nil {
		closer.Close()
		return err
	}

	for _, adj := range store.Adjustments() {
		fmt.Fprintf(s.out, "Note: configuration clamped: %s\n", adj)
	}

	s.path = mc.Path
	s.medium = m
	s.closer = closer
	s.store = store
	s.collector = collector
	return nil
}

func (s *session) close() error {
	if !s.isOpen() {
		return nil
	}

	err := s.closer.Close()
	s.path = ""
	s.medium = nil
	s.closer = nil
	s.store = nil
	s.collector = nil
	return err
}

// execute runs one shell line. It reports whether the shell should exit.
func (s *session) execute(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false, nil
	}

	cmd := strings.ToUpper(parts[0])
	if strings.HasPrefix(cmd, ".") {
		cmd = strings.ToLower(cmd)
	}

	ctx, span := s.tel.StartSpan(ctx, "wlshell.command", attribute.String("command", cmd))
	defer span.End()

	var err error
	switch cmd {
	case ".help":
		fmt.Fprint(s.out, helpText)

	case ".open":
		if len(parts) < 2 {
			return false, errors.New("missing path argument")
		}
		if err = s.open(parts[1]); err == nil {
			fmt.Fprintf(s.out, "Medium opened at %s\n", s.path)
			err = s.printState()
		}

	case ".close":
		if !s.isOpen() {
			fmt.Fprintln(s.out, "No medium open")
			return false, nil
		}
		name := s.name()
		if err = s.close(); err == nil {
			fmt.Fprintf(s.out, "Medium %s closed\n", name)
		}

	case ".exit":
		return true, s.close()

	case ".state":
		err = s.printState()

	case ".blocks":
		err = s.printBlocks()

	case ".stats":
		err = s.printStats()

	case ".dump":
		if len(parts) < 2 {
			return false, errors.New("missing file argument")
		}
		codec, level := "", ""
		if len(parts) > 2 {
			codec = parts[2]
		}
		if len(parts) > 3 {
			level = parts[3]
		}
		err = s.dump(ctx, parts[1], codec, level)

	case ".restore":
		if len(parts) < 2 {
			return false, errors.New("missing file argument")
		}
		err = s.restore(ctx, parts[1])

	case ".fingerprint":
		err = s.fingerprint()

	case ".save":
		if err = s.cfg.SaveManifest(s.configDir); err == nil {
			fmt.Fprintf(s.out, "Configuration saved to %s\n", s.configDir)
		}

	case "RECOVER":
		if err = s.requireOpen(); err == nil {
			if err = s.store.Recover(); err == nil {
				err = s.printState()
			}
		}

	case "READ":
		err = s.read()

	case "WRITE":
		if len(parts) < 2 {
			return false, errors.New("usage: WRITE 0xHEX | TEXT")
		}
		err = s.write(strings.TrimSpace(line[len(parts[0]):]))

	case "FORMAT":
		err = s.format(parts[1:])

	default:
		err = fmt.Errorf("unknown command %q, type .help for usage", parts[0])
	}

	if err != nil {
		span.RecordError(err)
	}
	return false, err
}

func (s *session) requireOpen() error {
	if !s.isOpen() {
		return errNotOpen
	}
	return nil
}

func (s *session) printState() error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	st := s.store.State()
	fmt.Fprintln(s.out, st)
	if st.Empty() {
		fmt.Fprintln(s.out, "No previous data")
	}
	return nil
}

func (s *session) printBlocks() error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	blocks, err := s.store.Blocks()
	if err != nil {
		return err
	}

	marked := 0
	for _, b := range blocks {
		status := "used"
		switch {
		case b.Erased:
			status = "erased"
		case b.Marked:
			status = "marked"
			marked++
		}
		active := ""
		if b.Active {
			active = " *"
		}
		fmt.Fprintf(s.out, "%6d  %-6s  count=%d%s\n", b.Addr, status, b.WriteCount, active)
	}

	if marked > 1 {
		fmt.Fprintf(s.out, "Warning: %d blocks carry the marker; RECOVER uses the lowest\n", marked)
	}
	return nil
}

func (s *session) printStats() error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	st := s.collector.GetStats()
	printMap(s.out, "", st)

	geo := s.store.Geometry()
	if mem, ok := s.medium.(*medium.Memory); ok {
		ws := mem.WearStats(geo.StartAddr, medium.Addr(geo.Extent()))
		fmt.Fprintf(s.out, "wear: min=%d max=%d total=%d cells=%d\n", ws.Min, ws.Max, ws.Total, ws.Cells)
	}
	return nil
}

func printMap(w io.Writer, indent string, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]interface{}:
			fmt.Fprintf(w, "%s%s:\n", indent, k)
			printMap(w, indent+"  ", v)
		case map[string]uint64:
			fmt.Fprintf(w, "%s%s:\n", indent, k)
			nested := make(map[string]interface{}, len(v))
			for nk, nv := range v {
				nested[nk] = nv
			}
			printMap(w, indent+"  ", nested)
		default:
			if strings.HasPrefix(k, "last_") {
				if ns, ok := v.(int64); ok && ns > 0 {
					v = time.Unix(0, ns).Format(time.RFC3339Nano)
				}
			}
			fmt.Fprintf(w, "%s%s: %v\n", indent, k, v)
		}
	}
}

func (s *session) read() error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	rec := record.NewBytes(s.store.Geometry().RecordSize)
	ok, err := s.store.Read(rec)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(s.out, "No previous data")
		return nil
	}

	data := rec.Bytes()
	fmt.Fprintf(s.out, "0x%s %q\n", hex.EncodeToString(data), bytes.TrimRight(data, "\x00"))
	return nil
}

// parseRecord decodes a 0x-prefixed hex string or takes text as is, then
// zero pads to size
func parseRecord(arg string, size int) ([]byte, error) {
	var data []byte
	if strings.HasPrefix(arg, "0x") || strings.HasPrefix(arg, "0X") {
		decoded, err := hex.DecodeString(arg[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid hex record: %w", err)
		}
		data = decoded
	} else {
		data = []byte(arg)
	}

	if len(data) > size {
		return nil, fmt.Errorf("record is %d bytes, store holds %d", len(data), size)
	}

	padded := make([]byte, size)
	copy(padded, data)
	return padded, nil
}

func (s *session) write(arg string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	data, err := parseRecord(arg, s.store.Geometry().RecordSize)
	if err != nil {
		return err
	}

	if err := s.store.Write(record.BytesOf(data)); err != nil {
		return err
	}

	st := s.store.State()
	fmt.Fprintf(s.out, "Written to block %d (write %d)\n", st.BlockAddr, st.WriteCount)
	return nil
}

func parseAddr(s string) (medium.Addr, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return medium.Addr(v), nil
}

func (s *session) format(args []string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	switch len(args) {
	case 0:
		if err := s.store.FormatAll(); err != nil {
			return err
		}
		geo := s.store.Geometry()
		fmt.Fprintf(s.out, "Erased [%d, %d)\n", geo.StartAddr, geo.EndAddr)

	case 2:
		start, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		stop, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		if err := s.store.FormatRange(start, stop); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Erased [%d, %d)\n", start, stop)

	default:
		return errors.New("usage: FORMAT [start stop]")
	}

	fmt.Fprintln(s.out, "Run RECOVER to refresh the cursor")
	return nil
}

// snapshotRange is the span of cells any block can touch
func (s *session) snapshotRange() (medium.Addr, medium.Addr) {
	geo := s.store.Geometry()
	return geo.StartAddr, medium.Addr(geo.Extent())
}

func (s *session) dump(ctx context.Context, path, codecName, levelName string) (err error) {
	if err := s.requireOpen(); err != nil {
		return err
	}

	codec, err := snapshot.ParseCodec(codecName)
	if err != nil {
		return err
	}
	level, err := snapshot.ParseLevel(levelName)
	if err != nil {
		return err
	}

	began := time.Now()
	var h snapshot.Header
	defer func() {
		snapshot.NewMetrics(s.tel, s.name()).RecordDump(ctx, began, h, err)
	}()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer f.Close()

	start, stop := s.snapshotRange()
	h, err = snapshot.Write(f, s.medium, start, stop, snapshot.WithCodec(codec), snapshot.WithZstdLevel(level))
	if err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}

	fmt.Fprintf(s.out, "Dumped [%d, %d) to %s (%s, %d bytes, checksum %016x)\n",
		h.Start, h.Stop, path, h.Codec, snapshot.HeaderSize+int(h.PayloadSize), h.Checksum)
	return nil
}

func (s *session) restore(ctx context.Context, path string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	began := time.Now()
	h, err := snapshot.Restore(f, s.medium)
	snapshot.NewMetrics(s.tel, s.name()).RecordRestore(ctx, began, h, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Restored [%d, %d) from %s\n", h.Start, h.Stop, path)

	if err := s.store.Recover(); err != nil {
		return err
	}
	return s.printState()
}

func (s *session) fingerprint() error {
	if err := s.requireOpen(); err != nil {
		return err
	}

	start, stop := s.snapshotRange()
	sum, err := snapshot.Fingerprint(s.medium, start, stop)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%016x [%d, %d)\n", sum, start, stop)
	return nil
}
