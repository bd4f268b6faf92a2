//go:build darwin
// +build darwin

package filter

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
)

// filterImpl keeps its rules in a pf anchor referenced from /etc/pf.conf.
type filterImpl struct {
	anchor string
}

func NewFilter(identifier string) (Filter, error) {
	enabled, err := isPFEnabled()
	if err != nil || !enabled {
		return nil, fmt.Errorf("PF service is not enabled: %v", err)
	}

	refExists, err := pfCheckAnchor(identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to check anchor reference in /etc/pf.conf: %v", err)
	}
	if !refExists {
		return nil, fmt.Errorf("anchor reference to %s does not exists in /etc/pf.conf. Please add it", identifier)
	}

	return &filterImpl{anchor: identifier}, nil
}

func clientRule(dstAddr string, dstPort int) string {
	return fmt.Sprintf("block drop out quick inet proto tcp from any to %s port = %d flags R/R", dstAddr, dstPort)
}

func serverRule(srcAddr string, srcPort int) string {
	return fmt.Sprintf("block drop out quick inet proto tcp from %s port = %d to any flags R/R", srcAddr, srcPort)
}

func (f *filterImpl) AddTcpClientFiltering(dstAddr string, dstPort int) error {
	return f.addRule(clientRule(dstAddr, dstPort))
}

func (f *filterImpl) RemoveTcpClientFiltering(dstAddr string, dstPort int) error {
	return f.removeRule(clientRule(dstAddr, dstPort))
}

func (f *filterImpl) AddTcpServerFiltering(srcAddr string, srcPort int) error {
	return f.addRule(serverRule(srcAddr, srcPort))
}

func (f *filterImpl) RemoveTcpServerFiltering(srcAddr string, srcPort int) error {
	return f.removeRule(serverRule(srcAddr, srcPort))
}

// addRule appends newRule to the anchor while leaving existing rules intact.
func (f *filterImpl) addRule(newRule string) error {
	currentRules, err := getPfRules(f.anchor)
	if err != nil {
		return fmt.Errorf("failed to retrieve current rules: %v", err)
	}
	if !containsRule(currentRules, newRule) {
		currentRules = append(currentRules, newRule)
	}

	if err := pfLoadRules(f.anchor, strings.Join(currentRules, "\n")); err != nil {
		return fmt.Errorf("failed to load updated rules: %v", err)
	}
	if err := verifyRuleExactMatch(f.anchor, newRule); err != nil {
		return fmt.Errorf("rule verification failed: %v", err)
	}

	log.Printf("Successfully added rule:\n%s\n", newRule)
	return nil
}

// removeRule drops a single rule from the anchor.
func (f *filterImpl) removeRule(ruleToRemove string) error {
	currentRules, err := getPfRules(f.anchor)
	if err != nil {
		return fmt.Errorf("failed to retrieve current rules: %v", err)
	}

	updatedRules := []string{}
	for _, rule := range currentRules {
		if strings.TrimSpace(rule) != strings.TrimSpace(ruleToRemove) {
			updatedRules = append(updatedRules, rule)
		}
	}

	if err := pfLoadRules(f.anchor, strings.Join(updatedRules, "\n")+"\n"); err != nil {
		return fmt.Errorf("failed to load updated rules: %v", err)
	}
	log.Println("Successfully removed rule:", ruleToRemove)
	return nil
}

// FinishFiltering flushes all rules in the anchor.
func (f *filterImpl) FinishFiltering() error {
	cmdFlush := exec.Command("pfctl", "-a", f.anchor, "-F", "rules")
	output, err := cmdFlush.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to flush rules for anchor %s: %v\nCommand output: %s", f.anchor, err, string(output))
	}
	return nil
}

// isPFEnabled checks whether PF is enabled.
func isPFEnabled() (bool, error) {
	output, err := exec.Command("pfctl", "-s", "info").CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("pfctl check failed: %v\nOutput: %s", err, string(output))
	}
	return strings.Contains(string(output), "Status: Enabled"), nil
}

// pfCheckAnchor checks if /etc/pf.conf references the anchor as: anchor "name"
func pfCheckAnchor(anchor string) (bool, error) {
	data, err := os.ReadFile("/etc/pf.conf")
	if err != nil {
		return false, fmt.Errorf("failed to read /etc/pf.conf: %v", err)
	}
	return strings.Contains(string(data), fmt.Sprintf("anchor \"%s\"", anchor)), nil
}

// getPfRules retrieves the "block" rules of the anchor, the only kind we add.
func getPfRules(anchor string) ([]string, error) {
	cmd := exec.Command("pfctl", "-a", anchor, "-s", "rules")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("failed to query PF rules: %v\nOutput: %s", err, string(output))
	}

	var rules []string
	for _, line := range strings.Split(string(output), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "block") {
			rules = append(rules, trimmed)
		}
	}
	return rules, nil
}

func pfLoadRules(anchor, rules string) error {
	cmd := exec.Command("sh", "-c", fmt.Sprintf("echo %q | sudo /sbin/pfctl -a %s -f -", rules, anchor))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to load PF rules: %v\nCommand output: %s", err, string(output))
	}
	return nil
}

// verifyRuleExactMatch checks if the expected rule appears in the anchor.
func verifyRuleExactMatch(anchor, expectedRule string) error {
	output, err := exec.Command("/sbin/pfctl", "-a", anchor, "-s", "rules").CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to query PF rules: %v", err)
	}

	expected := strings.TrimSpace(expectedRule)
	current := strings.TrimSpace(string(output))
	if !strings.Contains(current, expected) {
		return fmt.Errorf("rule does not match\nCurrent rules:\n%s\nExpected:\n%s", current, expected)
	}
	return nil
}

func containsRule(rules []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, rule := range rules {
		if strings.TrimSpace(rule) == target {
			return true
		}
	}
	return false
}
