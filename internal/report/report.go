// Package report renders inventories and probe results as terminal tables.
package report

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fgeck/esxi-control/internal/models"
)

var (
	// ErrHostNotFound is returned when a named host is not in the inventory.
	ErrHostNotFound = errors.New("host not found")
	// ErrGuestNotFound is returned when a named guest is not on its host.
	ErrGuestNotFound = errors.New("guest not found")
)

const hiddenSecret = "********"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	hostStyle = lipgloss.NewStyle().Bold(true)
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

var inventoryHeaders = []string{"HOST", "KIND", "NAME", "ADDRESS", "PORT", "USERNAME", "PASSWORD"}

// Inventory renders every host followed by its guests.
func Inventory(inv models.Inventory, showSecrets bool) string {
	if len(inv.Hosts) == 0 {
		return "No hosts configured.\n"
	}

	var rows [][]string
	for _, h := range inv.Hosts {
		rows = append(rows, hostRows(h, showSecrets)...)
	}

	return inventoryTable(rows).String() + "\n"
}

// Host renders a single host and its guests.
func Host(inv models.Inventory, name string, showSecrets bool) (string, error) {
	h, ok := inv.HostByName(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrHostNotFound, name)
	}

	return inventoryTable(hostRows(h, showSecrets)).String() + "\n", nil
}

// Guest renders a single guest of a host.
func Guest(inv models.Inventory, hostName, vmName string, showSecrets bool) (string, error) {
	if _, ok := inv.HostByName(hostName); !ok {
		return "", fmt.Errorf("%w: %s", ErrHostNotFound, hostName)
	}
	vm, ok := inv.GuestByName(hostName, vmName)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrGuestNotFound, hostName, vmName)
	}

	row := []string{
		hostName, string(models.KindGuest), vm.Name, vm.Address, port(vm.Port), vm.Username, secret(vm.Password, showSecrets),
	}
	return inventoryTable([][]string{row}).String() + "\n", nil
}

// InventorySummary renders host and guest counts.
func InventorySummary(inv models.Inventory) string {
	t := newTable("HOST", "ADDRESS", "GUESTS")
	for _, h := range inv.Hosts {
		t.Row(h.Name, h.Address, strconv.Itoa(len(h.VMs)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hosts: %d\n", len(inv.Hosts))
	fmt.Fprintf(&b, "Guests: %d\n", inv.GuestCount())
	if len(inv.Hosts) > 0 {
		b.WriteString(t.String())
		b.WriteString("\n")
	}
	return b.String()
}

// ProbeRow is one line of a probe report.
type ProbeRow struct {
	Kind      models.TargetKind
	Host      string
	Name      string
	Address   string
	Reachable bool
	LoggedIn  bool
	Error     string
}

// Probe renders reachability and login results.
func Probe(rows []ProbeRow) string {
	t := newTable("KIND", "HOST", "NAME", "ADDRESS", "PING", "SSH", "ERROR")
	for _, r := range rows {
		t.Row(string(r.Kind), r.Host, r.Name, r.Address, status(r.Reachable), status(r.LoggedIn), r.Error)
	}

	return t.String() + "\n"
}

func hostRows(h models.HypervisorHost, showSecrets bool) [][]string {
	rows := [][]string{{
		hostStyle.Render(h.Name), string(models.KindHost), h.Name, h.Address, port(h.Port), h.Username, secret(h.Password, showSecrets),
	}}
	for _, vm := range h.VMs {
		rows = append(rows, []string{
			h.Name, string(models.KindGuest), vm.Name, vm.Address, port(vm.Port), vm.Username, secret(vm.Password, showSecrets),
		})
	}
	return rows
}

func inventoryTable(rows [][]string) *table.Table {
	return newTable(inventoryHeaders...).Rows(rows...)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func secret(s string, show bool) string {
	if show {
		return s
	}
	if s == "" {
		return ""
	}
	return hiddenSecret
}

func port(p int) string {
	if p == 0 {
		return "-"
	}
	return strconv.Itoa(p)
}

func status(ok bool) string {
	if ok {
		return okStyle.Render("yes")
	}
	return failStyle.Render("no")
}
