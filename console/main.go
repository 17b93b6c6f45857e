package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/display"
	"github.com/itohio/vendmotor/pkg/hw"
	"github.com/itohio/vendmotor/pkg/transport"
	"github.com/itohio/vendmotor/pkg/vending"
)

// maxLogLines bounds the controller output kept on screen.
const maxLogLines = 500

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyUSB0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Run a simulated controller in-process instead of using the serial port")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	application := app.NewWithID("com.itohio.vendmotor")
	window := application.NewWindow("Motor Bank Console")
	window.Resize(fyne.NewSize(900, 600))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		window:     window,
		useMock:    *mockFlag,
		matrix:     display.NewMatrixWidget(),
	}
	state.logList = widget.NewList(
		func() int { return len(state.lines()) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(i widget.ListItemID, o fyne.CanvasObject) {
			lines := state.lines()
			if i < len(lines) {
				o.(*widget.Label).SetText(lines[i])
			}
		},
	)

	content := container.NewBorder(
		createToolbar(state),
		nil,
		nil,
		nil,
		container.NewHSplit(state.matrix, state.logList),
	)
	window.SetContent(content)
	window.SetOnClosed(func() { state.disconnect() })
	window.ShowAndRun()
}

// appState holds the application state.
type appState struct {
	cfg        *config.Config
	configPath string
	window     fyne.Window
	useMock    bool

	matrix     *display.MatrixWidget
	logList    *widget.List
	connectBtn *widget.Button
	actionBtns []*widget.Button

	mu      sync.Mutex
	link    *transport.Serial
	cancel  context.CancelFunc
	done    chan struct{} // Closed when the connection goroutines exit
	logBuf  []string
}

func (s *appState) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logBuf
}

// appendLog adds a controller line to the log view. Must run on the Fyne thread.
func (s *appState) appendLog(line string) {
	s.mu.Lock()
	s.logBuf = append(s.logBuf, line)
	if len(s.logBuf) > maxLogLines {
		s.logBuf = append([]string(nil), s.logBuf[len(s.logBuf)-maxLogLines:]...)
	}
	n := len(s.logBuf)
	s.mu.Unlock()

	s.logList.Refresh()
	s.logList.ScrollTo(n - 1)
}

func (s *appState) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link != nil && s.link.Connected()
}

// send writes a command to the controller.
func (s *appState) send(cmd string) {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return
	}
	if err := link.WriteLine(cmd); err != nil {
		log.Printf("[console] send %q: %v", cmd, err)
	}
}

// createToolbar creates the toolbar with Connect, Settings and the command buttons.
func createToolbar(state *appState) fyne.CanvasObject {
	state.connectBtn = widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	cell := func(action string) func() {
		return func() { state.send(action + ";" + state.matrix.Selected().String()) }
	}
	row := func(action string) func() {
		return func() { state.send(fmt.Sprintf("%s;%c", action, state.matrix.Selected().Row)) }
	}
	all := func(action string) func() {
		return func() { state.send(action + ";") }
	}

	buttons := []*widget.Button{
		widget.NewButtonWithIcon("Dispense", theme.MediaPlayIcon(), cell("disp")),
		widget.NewButtonWithIcon("Home", theme.HomeIcon(), cell("home")),
		widget.NewButton("Test cell", cell("test")),
		widget.NewButton("Test row", row("test")),
		widget.NewButton("Test all", all("test")),
		widget.NewButton("Reset cell", cell("rst")),
		widget.NewButton("Reset all", all("rst")),
		widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), all("stop")),
		widget.NewButtonWithIcon("Matrix", theme.ViewRefreshIcon(), all("send")),
	}
	for _, b := range buttons {
		b.Disable()
	}
	state.actionBtns = buttons

	objs := make([]fyne.CanvasObject, len(buttons))
	for i, b := range buttons {
		objs[i] = b
	}
	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(state.connectBtn, settingsBtn),
		nil,
		container.NewHBox(objs...),
	)
}

func (s *appState) setActions(enabled bool) {
	for _, b := range s.actionBtns {
		if enabled {
			b.Enable()
		} else {
			b.Disable()
		}
	}
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.connected() {
		state.disconnect()
		state.setActions(false)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	var link *transport.Serial
	var wg sync.WaitGroup
	if state.useMock {
		ctl, host := transport.Pipe()
		m := vending.New(state.cfg, hw.NewMock(&state.cfg.Mock), transport.NewStream("serial", ctl), nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Run(ctx); err != nil {
				log.Printf("[console] simulated controller: %v", err)
			}
		}()
		link = transport.NewStream("console", host)
		log.Printf("[console] using simulated controller")
	} else {
		var err error
		link, err = transport.OpenSerial(state.cfg.Serial)
		if err != nil {
			cancel()
			dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
			return
		}
		log.Printf("[console] connected to serial port: %s", state.cfg.Serial.Port)
	}

	// Row confirmations are written asynchronously so the reader never
	// blocks on the controller.
	receiver := display.NewReceiver(func(line string) error {
		go state.send(line)
		return nil
	})
	receiver.OnMatrix(func(m display.States) {
		fyne.Do(func() { state.matrix.SetMatrix(m) })
	})
	receiver.OnAbort(func() {
		fyne.Do(func() { state.appendLog("matrix transfer abandoned by controller") })
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := link.Lines(ctx, func(line string) {
			if receiver.Feed(line) {
				return
			}
			fyne.Do(func() { state.appendLog(line) })
			if refreshAfter(line) {
				go state.send("send;")
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("[console] link: %v", err)
		}
		fyne.Do(func() { state.setActions(false) })
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	state.mu.Lock()
	state.link, state.cancel, state.done = link, cancel, done
	state.mu.Unlock()
	state.setActions(true)
}

// disconnect closes the link and waits for the connection goroutines.
func (s *appState) disconnect() {
	s.mu.Lock()
	link, cancel, done := s.link, s.cancel, s.done
	s.link, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	link.Close()
	<-done
	log.Printf("[console] disconnected")
}

// refreshAfter reports whether a controller reply may have changed the
// fault matrix, so the console should request a fresh copy.
func refreshAfter(line string) bool {
	for _, prefix := range []string{"disp ", "home ", "test ", "rst "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
