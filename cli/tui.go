package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/j3fcruz/TokenX/config"
	"github.com/j3fcruz/TokenX/otpauth"
	"github.com/j3fcruz/TokenX/otpcode"
	"github.com/j3fcruz/TokenX/qr"
	"github.com/j3fcruz/TokenX/strength"
	"github.com/j3fcruz/TokenX/vault"
)

// The three periodic triggers are independent tick streams. Every one of
// them funnels through Update, so vault access stays serialized on the
// program goroutine.
type (
	refreshMsg   time.Time
	clipboardMsg time.Time
	idleMsg      time.Time
)

type confirmAction struct {
	kind   string // "overwrite", "delete", "reset"
	prompt string
	name   string
	cred   otpauth.Credential
}

type model struct {
	vault *vault.Vault
	cfg   config.Settings
	log   *slog.Logger

	state   string // "table", "detail", "import", "generator", "password", "confirm", "locked"
	table   table.Model
	records []vault.Record
	summary vault.LoadSummary

	inputs []textinput.Model
	focus  int

	countdown progress.Model

	confirm  confirmAction
	lastClip string
	msg      string
	notice   string
	fatal    string
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	msgStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
	lockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
)

// RunTUI starts the interactive session on an unlocked vault and blocks
// until it ends.
func RunTUI(v *vault.Vault, cfg config.Settings, logger *slog.Logger) error {
	records, summary, err := v.LoadAll()
	if err != nil {
		return err
	}

	m := newModel(v, cfg, logger, records, summary)
	p := tea.NewProgram(m, tea.WithAltScreen())
	out, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := out.(model); ok {
		if fm.notice != "" {
			fmt.Println(fm.notice)
		}
		if fm.fatal != "" {
			return errors.New(fm.fatal)
		}
	}
	return nil
}

func newModel(v *vault.Vault, cfg config.Settings, logger *slog.Logger, records []vault.Record, summary vault.LoadSummary) model {
	columns := []table.Column{
		{Title: "Name", Width: 28},
		{Title: "Issuer", Width: 16},
		{Title: "Code", Width: 12},
		{Title: "Next", Width: 6},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(true), table.WithHeight(12))
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true)
	s.Selected = s.Selected.Background(lipgloss.Color("57")).Foreground(lipgloss.Color("230"))
	t.SetStyles(s)

	bar := progress.New(progress.WithSolidFill("#00cc00"), progress.WithoutPercentage())
	bar.Width = 30

	m := model{
		vault:     v,
		cfg:       cfg,
		log:       logger,
		state:     "table",
		table:     t,
		records:   records,
		summary:   summary,
		countdown: bar,
	}
	if n := len(summary.Skipped); n > 0 {
		m.msg = fmt.Sprintf("%d loaded, %d skipped: %s", summary.Loaded, n, strings.Join(summary.Skipped, ", "))
	}
	m.rebuildRows(time.Now())
	return m
}

// --- Tea Model interface ---

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		refreshAfter(m.cfg.RefreshInterval),
		idleAfter(m.cfg.IdleCheckInterval),
	}
	if m.cfg.WatchClipboard {
		cmds = append(cmds, clipboardAfter(m.cfg.ClipboardInterval))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Height > 10 {
			m.table.SetHeight(msg.Height - 8)
		}
		return m, nil
	case refreshMsg:
		if m.state != "locked" {
			m.rebuildRows(time.Time(msg))
		}
		return m, refreshAfter(m.cfg.RefreshInterval)
	case idleMsg:
		if m.state != "locked" && m.vault.IdleFor(time.Time(msg)) >= m.cfg.IdleTimeout {
			m = lockNow(m)
		}
		return m, idleAfter(m.cfg.IdleCheckInterval)
	case clipboardMsg:
		m = scanClipboard(m)
		return m, clipboardAfter(m.cfg.ClipboardInterval)
	case tea.KeyMsg:
		m.vault.Touch()
		switch m.state {
		case "table":
			return updateTable(m, msg)
		case "detail":
			return updateDetail(m, msg)
		case "import":
			return updateImport(m, msg)
		case "generator":
			return updateGenerator(m, msg)
		case "password":
			return updatePassword(m, msg)
		case "confirm":
			return updateConfirm(m, msg)
		case "locked":
			return updateLocked(m, msg)
		}
	}
	return m, nil
}

func (m model) View() string {
	switch m.state {
	case "table":
		return viewTable(m)
	case "detail":
		return viewDetail(m)
	case "import":
		return viewImport(m)
	case "generator":
		return viewGenerator(m)
	case "password":
		return viewPassword(m)
	case "confirm":
		return viewConfirm(m)
	case "locked":
		return viewLocked(m)
	default:
		return "Unknown state"
	}
}

func refreshAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func clipboardAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return clipboardMsg(t) })
}

func idleAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return idleMsg(t) })
}

// --- Shared helpers ---

func (m *model) rebuildRows(now time.Time) {
	rows := lo.Map(m.records, func(r vault.Record, _ int) table.Row {
		code, err := otpcode.Generate(r.Credential, now)
		if err != nil {
			code = codeUnavailable
		}
		next := fmt.Sprintf("%ds", otpcode.Remaining(r.Credential, now))
		if r.Credential.Kind == otpauth.KindHOTP {
			next = fmt.Sprintf("#%d", r.Credential.Counter)
		}
		return table.Row{r.Name, r.Credential.Issuer, code, next}
	})
	m.table.SetRows(rows)
}

func (m model) selected() (vault.Record, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.records) {
		return vault.Record{}, false
	}
	return m.records[i], true
}

func reloadRecords(m model) model {
	records, summary, err := m.vault.LoadAll()
	if err != nil {
		m.msg = err.Error()
		return m
	}
	m.records, m.summary = records, summary
	if c := m.table.Cursor(); c >= len(records) && len(records) > 0 {
		m.table.SetCursor(len(records) - 1)
	}
	m.rebuildRows(time.Now())
	return m
}

func saveCredential(m model, c otpauth.Credential) model {
	if err := m.vault.Save(c.Label, c); err != nil {
		m.msg = "Save failed: " + err.Error()
		return m
	}
	m = reloadRecords(m)
	m.msg = fmt.Sprintf("Imported %s", c.Label)
	return m
}

func lockNow(m model) model {
	m.vault.Lock()
	m.records = nil
	m.summary = vault.LoadSummary{}
	m.table.SetRows(nil)
	m.inputs = passwordInputs("Master password")
	m.focus = 0
	m.msg = ""
	m.state = "locked"
	return m
}

func scanClipboard(m model) model {
	if m.state != "table" {
		return m
	}
	text, err := clipboard.ReadAll()
	if err != nil || text == m.lastClip || !strings.HasPrefix(text, "otpauth://") {
		return m
	}
	m.lastClip = text
	c, err := otpauth.Parse(text)
	if err != nil {
		m.msg = "Clipboard URI rejected: " + err.Error()
		return m
	}
	if m.vault.Exists(c.Label) {
		m.confirm = confirmAction{
			kind:   "overwrite",
			prompt: fmt.Sprintf("Overwrite %q with the clipboard credential?", c.Label),
			name:   c.Label,
			cred:   c,
		}
		m.state = "confirm"
		return m
	}
	return saveCredential(m, c)
}

func copyCode(m model, c otpauth.Credential) model {
	code, err := otpcode.Generate(c, time.Now())
	if err != nil {
		m.msg = "Code unavailable: " + err.Error()
		return m
	}
	clipboard.WriteAll(code)
	m.msg = "Code copied! (clears in 30s)"
	go func() {
		time.Sleep(30 * time.Second)
		clipboard.WriteAll("")
	}()
	return m
}

func uriInput() []textinput.Model {
	ti := textinput.New()
	ti.Placeholder = "otpauth://totp/Issuer:label?secret=...  (or a path to a QR image)"
	ti.CharLimit = 512
	ti.Width = 72
	ti.Focus()
	return []textinput.Model{ti}
}

func secretInput() []textinput.Model {
	ti := textinput.New()
	ti.Placeholder = "Base32 secret"
	ti.CharLimit = 128
	ti.Width = 48
	ti.Focus()
	return []textinput.Model{ti}
}

func passwordInputs(labels ...string) []textinput.Model {
	inputs := make([]textinput.Model, len(labels))
	for i, label := range labels {
		ti := textinput.New()
		ti.Placeholder = label
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
		ti.CharLimit = 128
		ti.Width = 32
		if i == 0 {
			ti.Focus()
		}
		inputs[i] = ti
	}
	return inputs
}

// Focus next or previous input
func (m *model) focusNext(backward bool) {
	n := len(m.inputs)
	if n == 0 {
		return
	}
	m.inputs[m.focus].Blur()
	if backward {
		m.focus = (m.focus - 1 + n) % n
	} else {
		m.focus = (m.focus + 1) % n
	}
	m.inputs[m.focus].Focus()
}

func (m *model) updateFocused(msg tea.Msg) tea.Cmd {
	if m.focus < 0 || m.focus >= len(m.inputs) {
		return nil
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return cmd
}

// --- Table ---

func updateTable(m model, msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "enter":
		if _, ok := m.selected(); ok {
			m.msg = ""
			m.state = "detail"
		}
	case "a":
		m.inputs = uriInput()
		m.focus = 0
		m.msg = ""
		m.state = "import"
	case "g":
		m.inputs = secretInput()
		m.focus = 0
		m.msg = ""
		m.state = "generator"
	case "p":
		m.inputs = passwordInputs("Current password", "New password", "Confirm new password")
		m.focus = 0
		m.msg = ""
		m.state = "password"
	case "c":
		if rec, ok := m.selected(); ok {
			m = copyCode(m, rec.Credential)
		}
	case "e":
		if rec, ok := m.selected(); ok {
			out := filepath.Join(m.vault.Dir(), rec.Name+".qr"+qr.EncryptedExt)
			if err := qr.ExportEncrypted(rec.Credential, m.vault, out); err != nil {
				m.msg = "Export failed: " + err.Error()
			} else {
				m.msg = "Exported to " + out
			}
		}
	case "d":
		if rec, ok := m.selected(); ok {
			m.confirm = confirmAction{
				kind:   "delete",
				prompt: fmt.Sprintf("Delete %q?", rec.Name),
				name:   rec.Name,
			}
			m.state = "confirm"
		}
	case "R":
		m.confirm = confirmAction{
			kind:   "reset",
			prompt: "Delete every credential and the master key?",
		}
		m.state = "confirm"
	case "ctrl+l":
		m = lockNow(m)
	default:
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func viewTable(m model) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("TokenX") + "\n\n")
	b.WriteString(m.table.View() + "\n")
	if m.msg != "" {
		b.WriteString("\n" + msgStyle.Render(m.msg) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render(
		"enter=show  a=add  g=generator  c=copy  e=export  d=delete  p=password  R=reset  ctrl+l=lock  q=quit"))
	return b.String()
}

// --- Detail ---

func updateDetail(m model, msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.msg = ""
		m.state = "table"
	case "c":
		if rec, ok := m.selected(); ok {
			m = copyCode(m, rec.Credential)
		}
	}
	return m, nil
}

func viewDetail(m model) string {
	rec, ok := m.selected()
	if !ok {
		return "Nothing selected\n\n" + helpStyle.Render("esc=back")
	}
	c := rec.Credential
	now := time.Now()

	code, err := otpcode.Generate(c, now)
	if err != nil {
		code = "code unavailable"
	}
	uri, _ := otpauth.Build(c)

	var b strings.Builder
	b.WriteString(titleStyle.Render(rec.Name) + "\n\n")
	b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Issuer:"), c.Issuer))
	b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Label:"), c.Label))
	b.WriteString(fmt.Sprintf("%s %s  %s %s  %s %d\n",
		labelStyle.Render("Type:"), string(c.Kind),
		labelStyle.Render("Algorithm:"), string(c.Algorithm),
		labelStyle.Render("Digits:"), c.Digits))
	if c.Kind == otpauth.KindTOTP {
		remaining := otpcode.Remaining(c, now)
		b.WriteString(fmt.Sprintf("%s %s  (%ds left)\n", labelStyle.Render("Code:"), code, remaining))
		b.WriteString(m.countdown.ViewAs(float64(remaining)/float64(c.Period)) + "\n")
	} else {
		b.WriteString(fmt.Sprintf("%s %s  (counter %d)\n", labelStyle.Render("Code:"), code, c.Counter))
	}
	b.WriteString(fmt.Sprintf("\n%s %s\n", labelStyle.Render("URI:"), uri))
	if m.msg != "" {
		b.WriteString("\n" + msgStyle.Render(m.msg) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("c=copy  esc=back"))
	return b.String()
}

// --- Import ---

func updateImport(m model, msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.msg = ""
		m.state = "table"
		return m, nil
	case "enter":
		return submitImport(m), nil
	}
	cmd := m.updateFocused(msg)
	return m, cmd
}

func submitImport(m model) model {
	text := strings.TrimSpace(m.inputs[0].Value())
	if text == "" {
		return m
	}

	var (
		c   otpauth.Credential
		err error
	)
	if strings.HasPrefix(text, "otpauth://") {
		c, err = otpauth.Parse(text)
	} else if _, statErr := os.Stat(text); statErr == nil {
		c, err = qr.ImportFile(text, m.vault, nil)
	} else {
		err = otpauth.ErrInvalidURI
	}
	if err != nil {
		m.msg = "Import failed: " + err.Error()
		return m
	}

	if m.vault.Exists(c.Label) {
		m.confirm = confirmAction{
			kind:   "overwrite",
			prompt: fmt.Sprintf("Overwrite existing credential %q?", c.Label),
			name:   c.Label,
			cred:   c,
		}
		m.state = "confirm"
		return m
	}
	m = saveCredential(m, c)
	m.state = "table"
	return m
}

func viewImport(m model) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Add credential") + "\n\n")
	b.WriteString(m.inputs[0].View() + "\n")
	if m.msg != "" {
		b.WriteString("\n" + msgStyle.Render(m.msg) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("enter=import  esc=cancel"))
	return b.String()
}

// --- Generator ---

func updateGenerator(m model, msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.msg = ""
		m.state = "table"
		return m, nil
	case "ctrl+r":
		secret, err := otpcode.NewSecret()
		if err != nil {
			m.msg = "Secret generation failed: " + err.Error()
			return m, nil
		}
		m.inputs[0].SetValue(secret)
		return m, nil
	}
	cmd := m.updateFocused(msg)
	return m, cmd
}

// generatorCredential wraps a raw secret with the provisioning defaults
// used for manual entry: SHA1, 6 digits, 30 seconds.
func generatorCredential(secret string) otpauth.Credential {
	return otpauth.Credential{
		Kind:      otpauth.KindTOTP,
		Label:     "manual",
		Issuer:    "TokenX",
		Secret:    strings.ToUpper(strings.TrimSpace(secret)),
		Algorithm: otpauth.AlgorithmSHA1,
		Digits:    6,
		Period:    30,
	}
}

func viewGenerator(m model) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Code generator") + "\n\n")
	b.WriteString(m.inputs[0].View() + "\n\n")

	if secret := strings.TrimSpace(m.inputs[0].Value()); secret != "" {
		c := generatorCredential(secret)
		now := time.Now()
		code, err := otpcode.Generate(c, now)
		if err != nil {
			code = "code unavailable"
		}
		b.WriteString(fmt.Sprintf("%s %s  (%ds left)\n", labelStyle.Render("Code:"), code, otpcode.Remaining(c, now)))
	}
	if m.msg != "" {
		b.WriteString("\n" + msgStyle.Render(m.msg) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("ctrl+r=random secret  esc=back"))
	return b.String()
}

// --- Password change ---

func updatePassword(m model, msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.msg = ""
		m.state = "table"
		return m, nil
	case "tab", "down":
		m.focusNext(false)
		return m, nil
	case "shift+tab", "up":
		m.focusNext(true)
		return m, nil
	case "enter":
		if m.focus < len(m.inputs)-1 {
			m.focusNext(false)
			return m, nil
		}
		return submitPasswordChange(m), nil
	}
	cmd := m.updateFocused(msg)
	return m, cmd
}

func submitPasswordChange(m model) model {
	current := m.inputs[0].Value()
	next := m.inputs[1].Value()
	confirm := m.inputs[2].Value()

	failed, err := m.vault.ChangeMaster(current, next, confirm)
	switch {
	case errors.Is(err, vault.ErrPartialReencrypt):
		m.msg = fmt.Sprintf("Aborted, nothing changed. Files not decryptable: %s", strings.Join(failed, ", "))
	case errors.Is(err, vault.ErrWeakPassword):
		m.msg = "Password too weak: " + strings.Join(strength.Score(next).Feedback, "; ")
	case err != nil:
		m.msg = "Password change failed: " + err.Error()
	default:
		m = reloadRecords(m)
		m.msg = "Master password changed"
		m.state = "table"
	}
	return m
}

func viewPassword(m model) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Change master password") + "\n\n")
	for _, ti := range m.inputs {
		b.WriteString(ti.View() + "\n")
	}

	if next := m.inputs[1].Value(); next != "" {
		res := strength.Score(next)
		bar := progress.New(progress.WithSolidFill(res.Color), progress.WithoutPercentage())
		bar.Width = 30
		levelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(res.Color))
		b.WriteString("\n" + bar.ViewAs(float64(res.Score)/100) + " " + levelStyle.Render(string(res.Level)) + "\n")
		for _, hint := range res.Feedback {
			b.WriteString(helpStyle.Render("  - "+hint) + "\n")
		}
	}
	if m.msg != "" {
		b.WriteString("\n" + msgStyle.Render(m.msg) + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("tab=next field  enter=apply  esc=cancel"))
	return b.String()
}

// --- Confirm ---

func updateConfirm(m model, msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "y", "Y":
		return applyConfirm(m)
	case "n", "N", "esc":
		m.confirm = confirmAction{}
		m.state = "table"
	}
	return m, nil
}

func applyConfirm(m model) (model, tea.Cmd) {
	action := m.confirm
	m.confirm = confirmAction{}
	m.state = "table"

	switch action.kind {
	case "overwrite":
		m = saveCredential(m, action.cred)
	case "delete":
		if err := m.vault.Delete(action.name); err != nil {
			m.msg = "Delete failed: " + err.Error()
		} else {
			m = reloadRecords(m)
			m.msg = fmt.Sprintf("Deleted %s", action.name)
		}
	case "reset":
		if err := m.vault.ResetVault(); err != nil {
			m.msg = "Reset failed: " + err.Error()
			return m, nil
		}
		m.notice = "Vault reset. Start again to set up a new master password."
		return m, tea.Quit
	}
	return m, nil
}

func viewConfirm(m model) string {
	return titleStyle.Render("Confirm") + "\n\n" +
		m.confirm.prompt + "\n\n" +
		helpStyle.Render("y=yes  n=no")
}

// --- Locked ---

func updateLocked(m model, msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "enter":
		password := m.inputs[0].Value()
		if err := m.vault.Unlock(password); err != nil {
			// Same contract as startup: a failed unlock ends the session.
			m.fatal = "unlock failed: master key did not decrypt"
			return m, tea.Quit
		}
		m = reloadRecords(m)
		m.msg = ""
		m.state = "table"
		return m, nil
	}
	cmd := m.updateFocused(msg)
	return m, cmd
}

func viewLocked(m model) string {
	var b strings.Builder
	b.WriteString(lockedStyle.Render("Locked after inactivity") + "\n\n")
	b.WriteString(m.inputs[0].View() + "\n")
	b.WriteString("\n" + helpStyle.Render("enter=unlock  ctrl+c=quit"))
	return b.String()
}
