package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/vendmotor/pkg/transport"
)

// showSettingsDialog displays a settings dialog with tabs for the console's configuration.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createMotorTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

func (s *appState) save() {
	if err := s.cfg.Save(s.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), s.window)
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := transport.Ports()
	portOptions := []string{}
	if err == nil {
		for _, port := range ports {
			portOptions = append(portOptions, port.Name)
		}
	}

	current := state.cfg.Serial.Port
	found := false
	for _, opt := range portOptions {
		if opt == current {
			found = true
			break
		}
	}
	if !found && current != "" {
		portOptions = append(portOptions, current)
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if current != "" {
		portSelect.SetSelected(current)
	}
	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(state.cfg.Serial.BaudRate))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
		},
		OnSubmit: func() {
			if portSelect.Selected != "" {
				state.cfg.Serial.Port = portSelect.Selected
			}
			if baud, err := strconv.Atoi(baudEntry.Text); err == nil && baud > 0 {
				state.cfg.Serial.BaudRate = baud
			}
			state.save()
		},
	}

	return container.NewTabItem("Serial", form)
}

// createMotorTab creates the homing parameters tab. The values only take
// effect for the simulated controller; a real controller reads its own file.
func createMotorTab(state *appState) *container.TabItem {
	timeoutEntry := widget.NewEntry()
	timeoutEntry.SetText(state.cfg.Motor.Timeout.String())

	minSamplesEntry := widget.NewEntry()
	minSamplesEntry.SetText(strconv.Itoa(state.cfg.Motor.MinSamples))

	marginEntry := widget.NewEntry()
	marginEntry.SetText(fmt.Sprintf("%.1f", state.cfg.Motor.HomeMarginMA))

	logCheck := widget.NewCheck("", nil)
	logCheck.SetChecked(state.cfg.Motor.LogCurrent)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Homing Timeout", Widget: timeoutEntry},
			{Text: "Min Samples", Widget: minSamplesEntry},
			{Text: "Home Margin (mA)", Widget: marginEntry},
			{Text: "Log Current", Widget: logCheck},
		},
		OnSubmit: func() {
			if d, err := time.ParseDuration(timeoutEntry.Text); err == nil {
				state.cfg.Motor.Timeout = d
			}
			if n, err := strconv.Atoi(minSamplesEntry.Text); err == nil {
				state.cfg.Motor.MinSamples = n
			}
			if m, err := strconv.ParseFloat(marginEntry.Text, 32); err == nil {
				state.cfg.Motor.HomeMarginMA = float32(m)
			}
			state.cfg.Motor.LogCurrent = logCheck.Checked
			state.save()
		},
	}

	return container.NewTabItem("Motor", form)
}

// createMockTab creates the simulated bank configuration tab.
func createMockTab(state *appState) *container.TabItem {
	shortedEntry := widget.NewEntry()
	shortedEntry.SetText(strings.Join(state.cfg.Mock.Shorted, ","))
	shortedEntry.SetPlaceHolder("A1,C5")

	stalledEntry := widget.NewEntry()
	stalledEntry.SetText(strings.Join(state.cfg.Mock.Stalled, ","))

	revolutionEntry := widget.NewEntry()
	revolutionEntry.SetText(strconv.Itoa(state.cfg.Mock.RevolutionSamples))

	noiseEntry := widget.NewEntry()
	noiseEntry.SetText(fmt.Sprintf("%.2f", state.cfg.Mock.NoiseMA))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Shorted Cells", Widget: shortedEntry},
			{Text: "Stalled Cells", Widget: stalledEntry},
			{Text: "Revolution Samples", Widget: revolutionEntry},
			{Text: "Noise (mA)", Widget: noiseEntry},
		},
		OnSubmit: func() {
			state.cfg.Mock.Shorted = splitCells(shortedEntry.Text)
			state.cfg.Mock.Stalled = splitCells(stalledEntry.Text)
			if n, err := strconv.Atoi(revolutionEntry.Text); err == nil {
				state.cfg.Mock.RevolutionSamples = n
			}
			if n, err := strconv.ParseFloat(noiseEntry.Text, 32); err == nil {
				state.cfg.Mock.NoiseMA = float32(n)
			}
			state.save()
		},
	}

	return container.NewTabItem("Mock", form)
}

func splitCells(text string) []string {
	var cells []string
	for _, c := range strings.Split(text, ",") {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}
