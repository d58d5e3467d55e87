// Package cli implements the interactive vault session: a menu loop over
// the local vault and the sync connection (open, create, restore, record
// management, sync).
package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/passmgr-tool/passmgr/internal/certutil"
	"github.com/passmgr-tool/passmgr/internal/config"
	"github.com/passmgr-tool/passmgr/internal/keys"
	"github.com/passmgr-tool/passmgr/internal/logging"
	"github.com/passmgr-tool/passmgr/internal/mnemonic"
	"github.com/passmgr-tool/passmgr/internal/record"
	"github.com/passmgr-tool/passmgr/internal/store"
	"github.com/passmgr-tool/passmgr/internal/syncclient"
	"github.com/passmgr-tool/passmgr/internal/syncrpc"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
	hiddenStyle = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// App drives the interactive session.
type App struct {
	cfg *config.Config
	log *slog.Logger

	session *store.UserDB
	client  *syncrpc.Client
}

// New builds an interactive app over a loaded configuration.
func New(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &App{cfg: cfg, log: logger}
}

// Run executes the menu loop until the user exits.
func (a *App) Run() error {
	defer a.closeSession()

	for {
		if a.session == nil {
			done, err := a.startMenu()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue
		}

		done, err := a.vaultMenu()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// startMenu is shown while no vault is open.
func (a *App) startMenu() (bool, error) {
	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("passmgr").
			Options(
				huh.NewOption("Open existing vault", "open"),
				huh.NewOption("Create new vault", "create"),
				huh.NewOption("Restore from server", "restore"),
				huh.NewOption("Exit", "exit"),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return false, err
	}

	var err error
	switch choice {
	case "open":
		err = a.openVault()
	case "create":
		err = a.createVault()
	case "restore":
		err = a.restoreVault()
	case "exit":
		return true, nil
	}
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return true, nil
		}
		fmt.Println(errStyle.Render("error: " + err.Error()))
	}
	return false, nil
}

// vaultMenu is shown while a vault session is open.
func (a *App) vaultMenu() (bool, error) {
	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("vault %s", a.session.UserID().ShortString())).
			Options(
				huh.NewOption("List records", "list"),
				huh.NewOption("Show record", "show"),
				huh.NewOption("Show secret values", "show-secret"),
				huh.NewOption("Create record", "create-record"),
				huh.NewOption("Update record", "update-record"),
				huh.NewOption("Delete record", "delete-record"),
				huh.NewOption("Sync with server", "sync"),
				huh.NewOption("Register on server", "register"),
				huh.NewOption("List server records", "list-server"),
				huh.NewOption("Delete all server records", "delete-all-server"),
				huh.NewOption("Close vault", "close"),
				huh.NewOption("Exit", "exit"),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return false, err
	}

	var err error
	switch choice {
	case "list":
		err = a.listRecords()
	case "show":
		err = a.showRecord(false)
	case "show-secret":
		err = a.showRecord(true)
	case "create-record":
		err = a.createRecord()
	case "update-record":
		err = a.updateRecord()
	case "delete-record":
		err = a.deleteRecord()
	case "sync":
		err = a.sync()
	case "register":
		err = a.register()
	case "list-server":
		err = a.listServer()
	case "delete-all-server":
		err = a.deleteAllServer()
	case "close":
		a.closeSession()
	case "exit":
		return true, nil
	}
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		fmt.Println(errStyle.Render("error: " + err.Error()))
	}
	return false, nil
}

// openVault asks for the seed phrase and opens the configured vault.
func (a *App) openVault() error {
	phrase, err := a.askSeedPhrase("Enter seed phrase")
	if err != nil {
		return err
	}
	return a.openSession(phrase)
}

// createVault generates fresh entropy, shows the phrase and requires
// explicit confirmation before the vault exists anywhere on disk.
func (a *App) createVault() error {
	_, words, err := mnemonic.Generate(256)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Your new seed phrase:"))
	fmt.Println()
	for i := 0; i < len(words); i += 6 {
		end := i + 6
		if end > len(words) {
			end = len(words)
		}
		line := ""
		for j := i; j < end; j++ {
			line += fmt.Sprintf("%2d:%-10s ", j+1, words[j])
		}
		fmt.Println("  " + line)
	}
	fmt.Println()

	var saved bool
	confirm := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Did you write the seed phrase down somewhere safe?").
			Affirmative("Yes, continue").
			Negative("No, cancel").
			Value(&saved),
	))
	if err := confirm.Run(); err != nil {
		return err
	}
	if !saved {
		fmt.Println("vault creation cancelled")
		return nil
	}

	return a.openSession(words)
}

// restoreVault opens a session from a seed phrase and pulls every record
// from the configured server.
func (a *App) restoreVault() error {
	if err := a.openVault(); err != nil {
		return err
	}
	if a.session == nil {
		return nil
	}

	client, err := a.connect()
	if err != nil {
		return err
	}

	ctx, cancel := a.rpcContext()
	defer cancel()

	n, err := syncclient.New(a.session, client, a.log).Restore(ctx)
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("restored %d records from server", n)))
	return nil
}

// openSession derives the hierarchy and opens the vault database.
func (a *App) openSession(words []string) error {
	entropy, err := mnemonic.Decode(words)
	if err != nil {
		return err
	}
	if len(entropy) < keys.MinEntropy {
		return fmt.Errorf("vault identity needs a 24-word phrase (%d words given)", len(words))
	}

	fmt.Println(hiddenStyle.Render("deriving keys (this takes a moment)..."))
	mk, err := keys.FromEntropy(entropy)
	if err != nil {
		return err
	}

	codes, err := a.cfg.CipherCodes()
	if err != nil {
		return err
	}
	path, err := a.cfg.VaultPath()
	if err != nil {
		return err
	}

	session, err := store.OpenUserDB(path, mk, codes)
	if err != nil {
		return err
	}
	a.session = session
	fmt.Println(okStyle.Render("vault open: user " + session.UserID().ShortString()))
	return nil
}

func (a *App) closeSession() {
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.log.Warn("vault close failed", logging.KeyError, err)
		}
		a.session = nil
	}
}

// connect dials the configured sync server once per session.
func (a *App) connect() (*syncrpc.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	if a.cfg.Sync.Server == "" {
		return nil, fmt.Errorf("no sync server configured")
	}

	tlsConf, err := a.tlsConfig()
	if err != nil {
		return nil, err
	}

	_, priv := a.session.Keys().SigningKeypair()
	signer := syncrpc.NewSigner(a.session.UserID(), priv)
	client, err := syncrpc.Dial(a.cfg.Sync.Server, tlsConf, signer, a.session.UserID())
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

func (a *App) tlsConfig() (*tls.Config, error) {
	if a.cfg.Sync.Insecure {
		return nil, nil
	}
	return certutil.ClientTLSConfig(a.cfg.Sync.CAFile)
}

func (a *App) rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.cfg.Sync.Timeout)
}

// listRecords prints ID, version and payload size for every record.
func (a *App) listRecords() error {
	metas, err := a.session.ListMeta()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println("vault is empty")
		return nil
	}

	fmt.Println(labelStyle.Render(fmt.Sprintf("%-22s %-6s %s", "ID", "VER", "SIZE")))
	for _, m := range metas {
		fmt.Printf("%-22d %-6d %s\n", m.ID, m.Ver, humanize.Bytes(uint64(m.Size)))
	}
	return nil
}

// showRecord displays one record; secret values stay masked unless
// revealSecrets is set.
func (a *App) showRecord(revealSecrets bool) error {
	id, err := a.askRecordID()
	if err != nil {
		return err
	}

	r, err := a.session.Read(id)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("record %d", id)))
	if r.Icon != "" {
		fmt.Printf("%s %s\n", labelStyle.Render("icon:"), r.Icon)
	}
	fmt.Printf("%s %s\n", labelStyle.Render("created:"), time.Unix(int64(r.Created), 0).Format(time.RFC3339))
	fmt.Printf("%s %s\n", labelStyle.Render("updated:"), time.Unix(int64(r.Updated), 0).Format(time.RFC3339))
	for _, f := range r.Fields {
		value := f.Value
		if f.Has(record.AttrHide) && !revealSecrets {
			value = hiddenStyle.Render("********")
		}
		fmt.Printf("  %s %s\n", labelStyle.Render(f.Title+":"), value)
	}
	return nil
}

// createRecord runs the iterative field builder and stores the result.
func (a *App) createRecord() error {
	now := uint64(time.Now().Unix())
	r := &record.Record{Created: now, Updated: now}

	if err := a.buildRecord(r); err != nil {
		return err
	}

	id, err := a.session.Create(r)
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("created record %d", id)))
	return nil
}

// updateRecord edits an existing record by rebuilding its fields.
func (a *App) updateRecord() error {
	id, err := a.askRecordID()
	if err != nil {
		return err
	}
	r, err := a.session.Read(id)
	if err != nil {
		return err
	}

	if err := a.buildRecord(r); err != nil {
		return err
	}
	if err := a.session.Update(id, r); err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("updated record %d", id)))
	return nil
}

// buildRecord collects fields one at a time until the user stops.
func (a *App) buildRecord(r *record.Record) error {
	icon := r.Icon
	iconForm := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Icon (optional)").Value(&icon),
	))
	if err := iconForm.Run(); err != nil {
		return err
	}
	r.Icon = icon

	for {
		var addMore bool
		prompt := "Add a field?"
		if len(r.Fields) > 0 {
			prompt = fmt.Sprintf("Add another field? (%d so far)", len(r.Fields))
		}
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().Title(prompt).Value(&addMore),
		))
		if err := confirm.Run(); err != nil {
			return err
		}
		if !addMore {
			return nil
		}

		var title, value string
		var attrs []record.Attribute
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Field title").Value(&title),
			huh.NewInput().Title("Field value").Value(&value),
			huh.NewMultiSelect[record.Attribute]().
				Title("Attributes").
				Options(
					huh.NewOption("hide", record.AttrHide),
					huh.NewOption("copy", record.AttrCopy),
					huh.NewOption("reload", record.AttrReload),
				).
				Value(&attrs),
		))
		if err := form.Run(); err != nil {
			return err
		}
		if title == "" {
			continue
		}
		r.Fields = append(r.Fields, record.Item{Title: title, Value: value, Attributes: attrs})
	}
}

func (a *App) deleteRecord() error {
	id, err := a.askRecordID()
	if err != nil {
		return err
	}

	var sure bool
	confirm := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Delete record %d?", id)).
			Value(&sure),
	))
	if err := confirm.Run(); err != nil {
		return err
	}
	if !sure {
		return nil
	}

	if err := a.session.Delete(id); err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf("deleted record %d", id)))
	return nil
}

// sync runs one pull/merge/push cycle against the configured server.
func (a *App) sync() error {
	client, err := a.connect()
	if err != nil {
		return err
	}

	ctx, cancel := a.rpcContext()
	defer cancel()

	sum, err := syncclient.New(a.session, client, a.log).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(okStyle.Render(fmt.Sprintf(
		"sync complete: %d pulled, %d pushed, %d unchanged",
		sum.Pulled, sum.Pushed, sum.Unchanged)))
	return nil
}

// register announces this vault's identity to the server.
func (a *App) register() error {
	client, err := a.connect()
	if err != nil {
		return err
	}

	pub, _ := a.session.Keys().SigningKeypair()
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return err
	}

	ctx, cancel := a.rpcContext()
	defer cancel()

	if err := client.Register(ctx, pubBytes); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("registered on server"))
	return nil
}

func (a *App) listServer() error {
	client, err := a.connect()
	if err != nil {
		return err
	}

	ctx, cancel := a.rpcContext()
	defer cancel()
	if err := client.RefreshNonce(ctx); err != nil {
		return err
	}

	infos, err := client.GetList(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("server holds no records for this user")
		return nil
	}
	fmt.Println(labelStyle.Render(fmt.Sprintf("%-22s %s", "ID", "VER")))
	for _, info := range infos {
		fmt.Printf("%-22d %d\n", info.ID, info.Ver)
	}
	return nil
}

func (a *App) deleteAllServer() error {
	var sure bool
	confirm := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Delete EVERY record stored on the server for this user?").
			Affirmative("Delete all").
			Negative("Cancel").
			Value(&sure),
	))
	if err := confirm.Run(); err != nil {
		return err
	}
	if !sure {
		return nil
	}

	client, err := a.connect()
	if err != nil {
		return err
	}

	ctx, cancel := a.rpcContext()
	defer cancel()
	if err := client.RefreshNonce(ctx); err != nil {
		return err
	}
	if err := client.DeleteAll(ctx); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("server records deleted"))
	return nil
}

func (a *App) askSeedPhrase(title string) ([]string, error) {
	var phrase string
	form := huh.NewForm(huh.NewGroup(
		huh.NewText().
			Title(title).
			Description("24 words separated by spaces").
			Value(&phrase),
	))
	if err := form.Run(); err != nil {
		return nil, err
	}
	return mnemonic.Normalize(phrase), nil
}

func (a *App) askRecordID() (uint64, error) {
	var raw string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Record ID").
			Validate(func(s string) error {
				_, err := parseRecordID(s)
				return err
			}).
			Value(&raw),
	))
	if err := form.Run(); err != nil {
		return 0, err
	}
	return parseRecordID(raw)
}

func parseRecordID(s string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, fmt.Errorf("not a record ID: %q", s)
	}
	return id, nil
}
