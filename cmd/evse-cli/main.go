// Command evse-cli is the host maintenance shell for the EVSE firmware
// core: the interactive CLI surface (help, exit, reboot, info, log,
// metric, dbg, config, net, xmodem, chg, idtag, ocpp), run as a
// standalone tool against the same on-disk stores evsed reads and writes.
//
// Grounded on mash-go's interactive host tools (cmd/mash-device,
// cmd/mash-controller), and on weilun-shrimp's OCPP charger simulator
// main loop for the bufio-driven command dispatch shape.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pazzk-labs/evse-go/pkg/authstore"
	"github.com/pazzk-labs/evse-go/pkg/checkpoint"
	"github.com/pazzk-labs/evse-go/pkg/config"
	"github.com/pazzk-labs/evse-go/pkg/evlog"
	"github.com/pazzk-labs/evse-go/pkg/metricfs"
	"github.com/pazzk-labs/evse-go/pkg/ocppmsg"
)

// shell bundles every store the CLI operates on, each opened lazily
// against the tool config's data directory.
type shell struct {
	dataDir    string
	configPath string
	cpStore    *checkpoint.Store
	authStore  *authstore.Store
	metrics    *metricfs.FS
	now        func() time.Time
	rng        *rand.Rand
}

func main() {
	toolConfigPath := flag.String("tool-config", "evse-cli.yaml", "path to the CLI's own yaml configuration")
	flag.Parse()

	tc, err := loadToolConfig(*toolConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "evse-cli: %v\n", err)
		os.Exit(1)
	}

	metrics, err := metricfs.New(metricfs.Config{Dir: filepath.Join(tc.DataDir, "metrics")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "evse-cli: open metric filesystem: %v\n", err)
		os.Exit(1)
	}

	sh := &shell{
		dataDir:    tc.DataDir,
		configPath: filepath.Join(tc.DataDir, "config.bin"),
		cpStore:    checkpoint.NewStore(filepath.Join(tc.DataDir, "checkpoint.json")),
		authStore:  authstore.New(filepath.Join(tc.DataDir, "authorize.json")),
		metrics:    metrics,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := sh.authStore.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "evse-cli: load authorization store: %v\n", err)
	}

	sh.run()
}

func (sh *shell) run() {
	reader := bufio.NewReader(os.Stdin)
	printHelp()

	for {
		fmt.Print("evse> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			printHelp()
		case "exit", "quit", "q":
			return
		case "reboot":
			sh.cmdReboot(args)
		case "info":
			sh.cmdInfo()
		case "log":
			sh.cmdLog(args)
		case "metric":
			sh.cmdMetric(args)
		case "dbg":
			sh.cmdDbg(args)
		case "config":
			sh.cmdConfig(args)
		case "net":
			sh.cmdNet(args)
		case "xmodem":
			sh.cmdXmodem(args)
		case "chg":
			sh.cmdChg(args)
		case "idtag":
			sh.cmdIdtag(args)
		case "ocpp":
			sh.cmdOcpp(args)
		default:
			fmt.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println(`
EVSE host shell commands:
  help                              - show this help
  exit                              - leave the shell
  reboot                            - reboot the device (does not return)
  info                              - show device identity and connector summary
  log tail [n]                      - show the last n lines of today's log bucket (default 20)
  log size                          - show total log filesystem size
  metric list                       - list retained metric samples by position, oldest first (not by ID)
  metric get <id>                   - show one metric sample
  dbg config                        - dump the packed configuration layout
  dbg checkpoint                    - dump the checkpoint record
  config get <field>                - read a configuration field
  config set <field> <value>        - write and persist a configuration field
  net show                          - show networking configuration
  net set-url <url>                 - set the CSMS server URL
  net set-ping <seconds>            - set the websocket ping interval
  xmodem <path>                     - stage a firmware image file for the next update cycle
  chg status                        - show checkpointed connector state
  chg avail <connector> <true|false> - set a connector's checkpointed availability
  idtag list                        - print how entries are managed (entries are not listed)
  idtag add <tag> <status>          - add or replace a local-list entry
  idtag remove <tag>                - remove a local-list entry (clears to Invalid)
  idtag clear-cache                 - clear the authorization cache
  ocpp encode <action> <json>       - render a CALL envelope for action with the given JSON payload
  ocpp decode <json-array>          - parse a raw OCPP-J message`)
}

func (sh *shell) cmdReboot(args []string) {
	fmt.Println("rebooting...")
	os.Exit(0)
}

func (sh *shell) cmdInfo() {
	layout, err := config.LoadFile(sh.configPath)
	if err != nil {
		fmt.Printf("no configuration at %s: %v\n", sh.configPath, err)
		return
	}
	cp, err := sh.cpStore.Load()
	if err != nil {
		fmt.Printf("load checkpoint: %v\n", err)
		return
	}

	fmt.Printf("device id:      %s\n", config.StringFrom(layout.DeviceID[:]))
	fmt.Printf("device name:    %s\n", config.StringFrom(layout.DeviceName[:]))
	fmt.Printf("config version: %d\n", layout.Version)
	fmt.Printf("ocpp version:   %d\n", layout.OCPP.Version)
	fmt.Printf("server url:     %s\n", config.StringFrom(layout.Net.ServerURL[:]))
	fmt.Printf("charger unavailable: %v\n", cp.Unavailable)
	fmt.Printf("firmware updated:    %v\n", cp.FWUpdated)
	for id, c := range cp.Connectors {
		fmt.Printf("connector %d: transaction=%d unavailable=%v\n", id, c.TransactionID, c.Unavailable)
	}
}

func (sh *shell) cmdLog(args []string) {
	logDir := filepath.Join(sh.dataDir, "logs")
	if len(args) == 0 {
		fmt.Println("usage: log tail [n] | log size")
		return
	}
	switch args[0] {
	case "size":
		fl, err := evlog.NewFileLogger(evlog.DefaultFileLoggerConfig(logDir))
		if err != nil {
			fmt.Printf("open log filesystem: %v\n", err)
			return
		}
		size, err := fl.Size(time.Time{})
		if err != nil {
			fmt.Printf("size: %v\n", err)
			return
		}
		fmt.Printf("%d bytes\n", size)
	case "tail":
		n := 20
		if len(args) >= 2 {
			if v, err := strconv.Atoi(args[1]); err == nil {
				n = v
			}
		}
		tailTodayLog(logDir, n)
	default:
		fmt.Println("usage: log tail [n] | log size")
	}
}

// tailTodayLog prints the last n lines of the current day-bucket file.
// It reads the file directly since FileLogger exposes only Flush/Size;
// the CLI and the daemon both address the same bucket-per-day layout.
func tailTodayLog(logDir string, n int) {
	path := filepath.Join(logDir, fmt.Sprintf("%d.log", time.Now().UTC().Unix()/86400))
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("read log: %v\n", err)
		return
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

func (sh *shell) cmdMetric(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: metric list | metric get <id>")
		return
	}
	switch args[0] {
	case "list":
		samples, err := sh.metrics.Range()
		if err != nil {
			fmt.Printf("list metrics: %v\n", err)
			return
		}
		for i, s := range samples {
			fmt.Printf("%d: %s %v\n", i, s.Timestamp.Format(time.RFC3339), s.Fields)
		}
	case "get":
		if len(args) < 2 {
			fmt.Println("usage: metric get <id>")
			return
		}
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Printf("invalid id: %v\n", err)
			return
		}
		s, err := sh.metrics.Get(id)
		if err != nil {
			fmt.Printf("get metric: %v\n", err)
			return
		}
		fmt.Printf("%s %v\n", s.Timestamp.Format(time.RFC3339), s.Fields)
	default:
		fmt.Println("usage: metric list | metric get <id>")
	}
}

func (sh *shell) cmdDbg(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: dbg config | dbg checkpoint")
		return
	}
	switch args[0] {
	case "config":
		layout, err := config.LoadFile(sh.configPath)
		if err != nil {
			fmt.Printf("load config: %v\n", err)
			return
		}
		fmt.Printf("%+v\n", layout)
	case "checkpoint":
		cp, err := sh.cpStore.Load()
		if err != nil {
			fmt.Printf("load checkpoint: %v\n", err)
			return
		}
		fmt.Printf("%+v\n", cp)
	default:
		fmt.Println("usage: dbg config | dbg checkpoint")
	}
}

func (sh *shell) cmdConfig(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: config get <field> | config set <field> <value>")
		return
	}
	layout, err := config.LoadFile(sh.configPath)
	if err != nil {
		fmt.Printf("load config: %v\n", err)
		return
	}

	field := args[1]
	switch args[0] {
	case "get":
		v, err := readConfigField(layout, field)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(v)
	case "set":
		if len(args) < 3 {
			fmt.Println("usage: config set <field> <value>")
			return
		}
		if err := writeConfigField(&layout, field, strings.Join(args[2:], " ")); err != nil {
			fmt.Println(err)
			return
		}
		if err := config.FileSaveFunc(sh.configPath)(layout); err != nil {
			fmt.Printf("save config: %v\n", err)
			return
		}
		fmt.Println("OK")
	default:
		fmt.Println("usage: config get <field> | config set <field> <value>")
	}
}

func readConfigField(l config.Layout, field string) (string, error) {
	switch field {
	case "device_id":
		return config.StringFrom(l.DeviceID[:]), nil
	case "device_name":
		return config.StringFrom(l.DeviceName[:]), nil
	case "log_level":
		return strconv.Itoa(int(l.LogLevel)), nil
	case "server_url":
		return config.StringFrom(l.Net.ServerURL[:]), nil
	case "ping_interval":
		return strconv.Itoa(int(l.Net.PingInterval)), nil
	case "health_check_interval":
		return strconv.Itoa(int(l.Net.HealthCheckInterval)), nil
	case "ocpp_version":
		return strconv.Itoa(int(l.OCPP.Version)), nil
	default:
		return "", fmt.Errorf("unknown field: %s", field)
	}
}

func writeConfigField(l *config.Layout, field, value string) error {
	switch field {
	case "device_id":
		config.PutString(l.DeviceID[:], value)
	case "device_name":
		config.PutString(l.DeviceName[:], value)
	case "log_level":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
		l.LogLevel = uint8(v)
	case "server_url":
		config.PutString(l.Net.ServerURL[:], value)
	case "ping_interval":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ping_interval: %w", err)
		}
		l.Net.PingInterval = uint32(v)
	case "health_check_interval":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid health_check_interval: %w", err)
		}
		l.Net.HealthCheckInterval = uint32(v)
	case "ocpp_version":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ocpp_version: %w", err)
		}
		l.OCPP.Version = uint32(v)
	default:
		return fmt.Errorf("unknown field: %s", field)
	}
	return nil
}

func (sh *shell) cmdNet(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: net show | net set-url <url> | net set-ping <seconds>")
		return
	}
	switch args[0] {
	case "show":
		layout, err := config.LoadFile(sh.configPath)
		if err != nil {
			fmt.Printf("load config: %v\n", err)
			return
		}
		fmt.Printf("server url:           %s\n", config.StringFrom(layout.Net.ServerURL[:]))
		fmt.Printf("server id:            %s\n", config.StringFrom(layout.Net.ServerID[:]))
		fmt.Printf("ping interval:        %ds\n", layout.Net.PingInterval)
		fmt.Printf("health check interval: %ds\n", layout.Net.HealthCheckInterval)
	case "set-url":
		if len(args) < 2 {
			fmt.Println("usage: net set-url <url>")
			return
		}
		sh.cmdConfig([]string{"set", "server_url", args[1]})
	case "set-ping":
		if len(args) < 2 {
			fmt.Println("usage: net set-ping <seconds>")
			return
		}
		sh.cmdConfig([]string{"set", "ping_interval", args[1]})
	default:
		fmt.Println("usage: net show | net set-url <url> | net set-ping <seconds>")
	}
}

// cmdXmodem stages a firmware image for the next update cycle. The
// actual XMODEM UART framing is a peripheral-layer concern out of this
// module's scope; here the CLI just validates the file is
// readable and reports its size, standing in for "transfer complete."
func (sh *shell) cmdXmodem(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: xmodem <path>")
		return
	}
	info, err := os.Stat(args[0])
	if err != nil {
		fmt.Printf("stat firmware image: %v\n", err)
		return
	}
	fmt.Printf("staged %s (%d bytes) for the next update cycle\n", args[0], info.Size())
}

func (sh *shell) cmdChg(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: chg status | chg avail <connector> <true|false>")
		return
	}
	switch args[0] {
	case "status":
		cp, err := sh.cpStore.Load()
		if err != nil {
			fmt.Printf("load checkpoint: %v\n", err)
			return
		}
		fmt.Printf("charger unavailable: %v\n", cp.Unavailable)
		for id, c := range cp.Connectors {
			fmt.Printf("connector %d: transaction=%d unavailable=%v\n", id, c.TransactionID, c.Unavailable)
		}
	case "avail":
		if len(args) < 3 {
			fmt.Println("usage: chg avail <connector> <true|false>")
			return
		}
		connID, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Printf("invalid connector id: %v\n", err)
			return
		}
		available, err := strconv.ParseBool(args[2])
		if err != nil {
			fmt.Printf("invalid value: %v\n", err)
			return
		}
		cp, err := sh.cpStore.Load()
		if err != nil {
			fmt.Printf("load checkpoint: %v\n", err)
			return
		}
		c := cp.Connectors[connID]
		c.Unavailable = !available
		cp.Connectors[connID] = c
		if err := sh.cpStore.Save(cp); err != nil {
			fmt.Printf("save checkpoint: %v\n", err)
			return
		}
		fmt.Println("OK (checkpoint file updated; evsed does not apply checkpointed availability)")
	default:
		fmt.Println("usage: chg status | chg avail <connector> <true|false>")
	}
}

func (sh *shell) cmdIdtag(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: idtag list | idtag add <tag> <status> | idtag remove <tag> | idtag clear-cache")
		return
	}
	switch args[0] {
	case "add":
		if len(args) < 3 {
			fmt.Println("usage: idtag add <tag> <status>")
			return
		}
		sh.authStore.SetListEntry(authstore.Entry{IDTag: args[1], Status: authstore.Status(args[2])})
		if err := sh.authStore.Save(); err != nil {
			fmt.Printf("save authorization store: %v\n", err)
			return
		}
		fmt.Println("OK")
	case "remove":
		if len(args) < 2 {
			fmt.Println("usage: idtag remove <tag>")
			return
		}
		sh.authStore.SetListEntry(authstore.Entry{IDTag: args[1], Status: authstore.StatusInvalid})
		if err := sh.authStore.Save(); err != nil {
			fmt.Printf("save authorization store: %v\n", err)
			return
		}
		fmt.Println("OK")
	case "clear-cache":
		sh.authStore.ClearCache()
		if err := sh.authStore.Save(); err != nil {
			fmt.Printf("save authorization store: %v\n", err)
			return
		}
		fmt.Println("OK")
	case "list":
		fmt.Println("per-tag lookups happen live on the device; use 'idtag add'/'idtag remove' to manage entries")
	default:
		fmt.Println("usage: idtag list | idtag add <tag> <status> | idtag remove <tag> | idtag clear-cache")
	}
}

func (sh *shell) cmdOcpp(args []string) {
	if len(args) == 0 {
		fmt.Println("usage: ocpp encode <action> <json> | ocpp decode <json-array>")
		return
	}
	switch args[0] {
	case "encode":
		if len(args) < 3 {
			fmt.Println("usage: ocpp encode <action> <json>")
			return
		}
		action := args[1]
		payload := json.RawMessage(strings.Join(args[2:], " "))
		env, err := ocppmsg.NewCall(ocppmsg.NewMessageID(sh.now(), sh.rng), action, payload)
		if err != nil {
			fmt.Printf("build envelope: %v\n", err)
			return
		}
		data, err := ocppmsg.Encode(env)
		if err != nil {
			fmt.Printf("encode: %v\n", err)
			return
		}
		fmt.Println(string(data))
	case "decode":
		if len(args) < 2 {
			fmt.Println("usage: ocpp decode <json-array>")
			return
		}
		raw := strings.Join(args[1:], " ")
		env, err := ocppmsg.Decode([]byte(raw))
		if err != nil {
			fmt.Printf("decode: %v\n", err)
			return
		}
		fmt.Printf("role=%d id=%s action=%s error=%s/%s payload=%s\n",
			env.Role, env.ID, env.Action, env.ErrorCode, env.ErrorDescription, string(env.Payload))
	default:
		fmt.Println("usage: ocpp encode <action> <json> | ocpp decode <json-array>")
	}
}
