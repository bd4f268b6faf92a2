//go:build linux
// +build linux

package filter

import (
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
)

type filterImpl struct {
	comment string
}

// NewFilter picks nftables when the nft command is present and falls back to
// iptables otherwise.
func NewFilter(identifier string) (Filter, error) {
	if isNftablesAvailable() {
		log.Println("Using nftables for packet filtering")
		return newNftFilter(identifier)
	}
	if err := isIptablesEnabled(); err != nil {
		return nil, err
	}
	log.Println("Using iptables for packet filtering")
	return &filterImpl{
		comment: identifier,
	}, nil
}

// isIptablesEnabled checks if iptables is enabled and available on the system.
func isIptablesEnabled() error {
	// "iptables -S" lists all rules in the filter table and fails without iptables
	cmd := exec.Command("iptables", "-S")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables is not enabled or available: %v\nOutput: %s", err, string(output))
	}
	log.Println("iptables is enabled and available.")
	return nil
}

// rstRule returns the OUTPUT chain match dropping RST packets. side is "-d"
// for a destination match and "-s" for a source match.
func rstRule(side, addr string, port int, comment string) []string {
	portFlag := "--dport"
	if side == "-s" {
		portFlag = "--sport"
	}
	return []string{"OUTPUT", "-p", "tcp", "--tcp-flags", "RST", "RST", side, addr, portFlag, strconv.Itoa(port), "-m", "comment", "--comment", comment, "-j", "DROP"}
}

// ruleSpec renders a rule as the "-A" command that installs it.
func ruleSpec(rule []string) string {
	return "-A " + strings.Join(rule, " ")
}

func (f *filterImpl) addRule(rule []string) error {
	ruleCheck := ruleSpec(rule)
	// "iptables -C" succeeds only when the rule is already installed
	if err := exec.Command("iptables", append([]string{"-C"}, rule...)...).Run(); err == nil {
		log.Printf("Rule already exists: %s\n", ruleCheck)
		return nil
	}

	cmd := exec.Command("iptables", append([]string{"-A"}, rule...)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to add iptables rule: %v\nOutput: %s", err, string(output))
	}
	log.Printf("Successfully added rule: %s\n", ruleCheck)
	return nil
}

func (f *filterImpl) removeRule(rule []string) error {
	cmd := exec.Command("iptables", append([]string{"-D"}, rule...)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to remove iptables rule: %v\nOutput: %s", err, string(output))
	}
	log.Printf("Successfully removed rule: %s\n", ruleSpec(rule))
	return nil
}

func (f *filterImpl) AddTcpClientFiltering(dstAddr string, dstPort int) error {
	return f.addRule(rstRule("-d", dstAddr, dstPort, f.comment))
}

func (f *filterImpl) RemoveTcpClientFiltering(dstAddr string, dstPort int) error {
	return f.removeRule(rstRule("-d", dstAddr, dstPort, f.comment))
}

func (f *filterImpl) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	return f.addRule(rstRule("-s", srcAddr, srcPort, f.comment))
}

func (f *filterImpl) RemoveTcpServerFiltering(srcAddr string, srcPort int) error {
	return f.removeRule(rstRule("-s", srcAddr, srcPort, f.comment))
}

// FinishFiltering removes every OUTPUT rule carrying our comment.
func (f *filterImpl) FinishFiltering() error {
	cmd := exec.Command("iptables", "-S", "OUTPUT")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to list iptables rules: %v\nOutput: %s", err, string(output))
	}

	var deleteErrors []string
	for _, line := range ownedRules(string(output), f.comment) {
		// Replace "-A" with "-D" to delete the rule
		deleteCmd := strings.Replace(line, "-A", "-D", 1)
		cmd := exec.Command("sh", "-c", "iptables "+deleteCmd)
		if out, err := cmd.CombinedOutput(); err != nil {
			deleteErrors = append(deleteErrors, fmt.Sprintf("%s\nError: %s", deleteCmd, string(out)))
		}
	}

	if len(deleteErrors) > 0 {
		return fmt.Errorf("some rules failed to delete:\n%s", strings.Join(deleteErrors, "\n"))
	}
	return nil
}

// ownedRules picks the lines of "iptables -S" output tagged with comment.
// iptables prints the comment quoted only when it contains spaces.
func ownedRules(listing, comment string) []string {
	var rules []string
	for _, line := range strings.Split(listing, "\n") {
		if strings.Contains(line, "--comment "+comment+" ") || strings.Contains(line, "--comment \""+comment+"\"") {
			rules = append(rules, line)
		}
	}
	return rules
}
