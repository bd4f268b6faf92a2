//go:build linux
// +build linux

package filter

import (
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
)

// nftFilter keeps its rules in a table of its own, named after the
// identifier, so FinishFiltering can drop the whole table.
type nftFilter struct {
	table string
}

func isNftablesAvailable() bool {
	_, err := exec.LookPath("nft")
	return err == nil
}

var invalidTableChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// nftTableName turns an identifier into a valid nftables table name.
func nftTableName(identifier string) string {
	name := invalidTableChars.ReplaceAllString(identifier, "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "t_" + name
	}
	return strings.ToLower(name)
}

func newNftFilter(identifier string) (*nftFilter, error) {
	f := &nftFilter{table: nftTableName(identifier)}
	if err := f.ensureTableAndChain(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *nftFilter) ensureTableAndChain() error {
	// "add" is idempotent for tables and chains
	if output, err := exec.Command("nft", "add", "table", "inet", f.table).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create nftables table %s: %v\nOutput: %s", f.table, err, string(output))
	}
	chain := []string{"add", "chain", "inet", f.table, "output", "{", "type", "filter", "hook", "output", "priority", "0", ";", "}"}
	if output, err := exec.Command("nft", chain...).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create nftables output chain: %v\nOutput: %s", err, string(output))
	}
	return nil
}

// nftRstRule returns the match dropping RST packets. side is "daddr" for a
// destination match and "saddr" for a source match.
func nftRstRule(side, addr string, port int) string {
	portField := "dport"
	if side == "saddr" {
		portField = "sport"
	}
	return fmt.Sprintf("ip %s %s tcp %s %d tcp flags & rst == rst drop", side, addr, portField, port)
}

func (f *nftFilter) listChain() (string, error) {
	output, err := exec.Command("nft", "-a", "list", "chain", "inet", f.table, "output").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to list nftables chain: %v\nOutput: %s", err, string(output))
	}
	return string(output), nil
}

func (f *nftFilter) addRule(rule string) error {
	listing, err := f.listChain()
	if err != nil {
		return err
	}
	if len(ruleHandles(listing, rule)) > 0 {
		log.Printf("Rule already exists: %s\n", rule)
		return nil
	}
	args := append([]string{"add", "rule", "inet", f.table, "output"}, strings.Fields(rule)...)
	if output, err := exec.Command("nft", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to add nftables rule: %v\nOutput: %s", err, string(output))
	}
	log.Printf("Successfully added rule: %s\n", rule)
	return nil
}

// removeRule deletes rules by handle since nftables has no delete-by-match.
func (f *nftFilter) removeRule(rule string) error {
	listing, err := f.listChain()
	if err != nil {
		return err
	}
	for _, handle := range ruleHandles(listing, rule) {
		if output, err := exec.Command("nft", "delete", "rule", "inet", f.table, "output", "handle", handle).CombinedOutput(); err != nil {
			return fmt.Errorf("failed to remove nftables rule: %v\nOutput: %s", err, string(output))
		}
	}
	log.Printf("Successfully removed rule: %s\n", rule)
	return nil
}

var handleSuffix = regexp.MustCompile(`# handle (\d+)\s*$`)

// ruleHandles picks the handles of rules in an "nft -a list chain" listing
// that match rule. nft prints the address and port matches the way rule
// spells them.
func ruleHandles(listing, rule string) []string {
	match := strings.TrimSuffix(rule, " tcp flags & rst == rst drop")
	var handles []string
	for _, line := range strings.Split(listing, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, match+" ") || !strings.Contains(line, " drop") {
			continue
		}
		if m := handleSuffix.FindStringSubmatch(line); m != nil {
			handles = append(handles, m[1])
		}
	}
	return handles
}

func (f *nftFilter) AddTcpClientFiltering(dstAddr string, dstPort int) error {
	return f.addRule(nftRstRule("daddr", dstAddr, dstPort))
}

func (f *nftFilter) RemoveTcpClientFiltering(dstAddr string, dstPort int) error {
	return f.removeRule(nftRstRule("daddr", dstAddr, dstPort))
}

func (f *nftFilter) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	return f.addRule(nftRstRule("saddr", srcAddr, srcPort))
}

func (f *nftFilter) RemoveTcpServerFiltering(srcAddr string, srcPort int) error {
	return f.removeRule(nftRstRule("saddr", srcAddr, srcPort))
}

// FinishFiltering deletes the whole table with every rule in it.
func (f *nftFilter) FinishFiltering() error {
	if output, err := exec.Command("nft", "delete", "table", "inet", f.table).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to delete nftables table %s: %v\nOutput: %s", f.table, err, string(output))
	}
	return nil
}
