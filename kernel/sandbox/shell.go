package sandbox

import "strings"

// RiskLevel is the shell-command risk classification used by
// ClassifyShellCommand. It is distinct from toolcap.RiskLevel: shell
// classification needs a Critical tier above High that toolcap's
// coarse tool-capability risk does not.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// criticalPatterns, highPatterns, mediumPatterns, lowPatterns are scanned in
// that order; the first matching pattern set wins. Patterns are
// case-insensitive literal substrings, not regexes, matching §4.1's
// "case-insensitive substring scan" rule.
var criticalPatterns = []string{
	"rm -rf", "rm -fr", "dd if=", "mkfs", "shutdown", "reboot",
	"iptables -f", ":(){:|:&};:", "> /dev/sda", "chmod 777", "chmod -r 777",
	"mkfs.", "fdisk", "format c:",
}

var highPatterns = []string{
	"sudo ", "su -", "chown -r", "curl | sh", "curl | bash", "wget | sh",
	"wget | bash", "eval ", "> /etc/", "kill -9 -1", "killall", "pkill -9",
}

var mediumPatterns = []string{
	"rm -r", "rm -i", "mv /", "cp -r", "git push --force", "git reset --hard",
	"npm publish", "docker rm", "docker rmi", "systemctl stop",
}

var lowPatterns = []string{
	"git status", "ls ", "cat ", "echo ", "pwd", "grep ", "find ", "git log",
}

// ClassifyShellCommand returns the highest-severity pattern set matching
// command. Unmatched commands classify as Low, the least restrictive
// default, since the scan is advisory rather than a closed allowlist.
func ClassifyShellCommand(command string) RiskLevel {
	lower := strings.ToLower(command)
	if matchesAny(lower, criticalPatterns) {
		return RiskCritical
	}
	if matchesAny(lower, highPatterns) {
		return RiskHigh
	}
	if matchesAny(lower, mediumPatterns) {
		return RiskMedium
	}
	return RiskLow
}

func matchesAny(lower string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
