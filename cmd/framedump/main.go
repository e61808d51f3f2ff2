package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/udisondev/framecap/internal/capture"
	"github.com/udisondev/framecap/internal/policy"
	"github.com/udisondev/framecap/internal/protocol"
)

// Формат входа: по кадру на строку, "<channel> <direction> <hex>", например
//
//	lobby rx 0000...
//
// Пустые строки и строки, начинающиеся с '#', пропускаются.
func main() {
	policyPath := flag.String("policy", "config/policies.yaml", "YAML policy file")
	version := flag.String("version", "", "game version (default: built-in layout, no opcodes)")
	in := flag.String("in", "-", "input file, - for stdin")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	pol, err := loadPolicy(*policyPath, *version)
	if err != nil {
		log.Fatalf("loading policy: %v", err)
	}

	var r io.Reader = os.Stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			log.Fatalf("opening input: %v", err)
		}
		defer f.Close()
		r = f
	}

	d, err := newDumper(os.Stdout, pol)
	if err != nil {
		log.Fatalf("creating dumper: %v", err)
	}
	if err := d.run(r); err != nil {
		log.Fatalf("dump: %v", err)
	}
}

func loadPolicy(path, version string) (policy.Policy, error) {
	if version == "" {
		return policy.New("default"), nil
	}
	m, err := policy.LoadFile(path)
	if err != nil {
		return policy.Policy{}, err
	}
	return m.Policy(context.Background(), version)
}

// dumper печатает разбор каждого кадра и то, что из него собрал pipeline.
type dumper struct {
	out      io.Writer
	policy   policy.Policy
	pipeline *capture.Pipeline
	emitted  []byte
}

func newDumper(out io.Writer, pol policy.Policy) (*dumper, error) {
	d := &dumper{out: out, policy: pol}
	p, err := capture.NewPipeline(capture.Options{
		Policy:  pol,
		Handler: d,
		Diagnostics: capture.DiagnosticsFunc(func(msg string) {
			fmt.Fprintf(out, "  ! %s\n", msg)
		}),
	})
	if err != nil {
		return nil, err
	}
	d.pipeline = p
	return d, nil
}

func (d *dumper) NetworkInitialized() {
	fmt.Fprintln(d.out, "  * network initialized")
}

func (d *dumper) NetworkEvent(ev capture.NetworkEvent) {
	d.emitted = append(d.emitted[:0], ev.Data...)
}

func (d *dumper) run(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := d.line(line); err != nil {
			fmt.Fprintf(d.out, "line %d: %v\n", lineNo, err)
		}
	}
	return sc.Err()
}

func (d *dumper) line(line string) error {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return fmt.Errorf("want \"<channel> <direction> <hex>\", got %d fields", len(fields))
	}
	ch, err := protocol.ParseChannel(fields[0])
	if err != nil {
		return err
	}
	dir, err := protocol.ParseDirection(fields[1])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(fields[2])
	if err != nil {
		return fmt.Errorf("decoding hex: %w", err)
	}

	f, err := protocol.Parse(data, ch, dir, d.policy.Schema)
	if err != nil {
		return err
	}
	d.describe(f)
	protocol.ReleaseFrame(f)

	d.emitted = d.emitted[:0]
	d.pipeline.OnFrame(ch, dir, data)
	if len(d.emitted) > 0 && !bytes.Equal(d.emitted, data[:len(d.emitted)]) {
		fmt.Fprintf(d.out, "  reconstructed: %s\n", hex.EncodeToString(d.emitted))
	}
	return nil
}

func (d *dumper) describe(f *protocol.Frame) {
	fmt.Fprintf(d.out, "%s %s tag=%#x ts=%d size=%d count=%d conn=%d\n",
		f.Channel, f.Direction, f.Tag, f.Timestamp, f.TotalSize, f.Count, f.ConnectionType)

	for i, p := range f.Packets {
		c := protocol.ClassifyHeader(f.Channel, f.Direction, p.Kind, false)
		opcode := "-"
		if p.Kind == protocol.KindIPC && p.ReadOpcode(d.policy.Schema) {
			c.ClassifyOpcode(f.Channel, f.Direction, p.Kind, p.Opcode, d.policy.Opcodes)
			opcode = fmt.Sprintf("0x%04X", p.Opcode)
		}
		fmt.Fprintf(d.out, "  [%d] %s size=%d %d->%d opcode=%s%s\n",
			i, p.Kind, p.Size, p.Source, p.Target, opcode, flags(c))
	}
}

func flags(c protocol.Classification) string {
	var b strings.Builder
	if c.NetworkInit {
		b.WriteString(" network-init")
	}
	if c.EncryptionInit {
		b.WriteString(" encryption-init")
	}
	if c.NeedsDecryption {
		b.WriteString(" encrypted")
	}
	if c.KeyInit != protocol.KeyInitNone {
		fmt.Fprintf(&b, " key-init=%s", c.KeyInit)
	}
	switch {
	case c.Obfuscated && c.Window.Length > 0:
		fmt.Fprintf(&b, " obfuscated[%d:%d]", c.Window.Offset, c.Window.Offset+c.Window.Length)
	case c.Obfuscated:
		fmt.Fprintf(&b, " obfuscated[%d:]", c.Window.Offset)
	}
	return b.String()
}
