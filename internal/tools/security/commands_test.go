package security

import (
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    Class
	}{
		{"docker ps", "docker ps -a", ClassReadOnly},
		{"docker logs", "docker logs --tail 50 web", ClassReadOnly},
		{"docker inspect", "docker inspect web", ClassReadOnly},
		{"kubectl get", "kubectl get pods -n default", ClassReadOnly},
		{"git status", "git status", ClassReadOnly},
		{"systemctl status", "systemctl status nginx", ClassReadOnly},
		{"plain cat", "cat /etc/hostname", ClassReadOnly},
		{"plain ls", "ls -la /tmp", ClassReadOnly},
		{"quoted rm is data", `echo "rm -rf /tmp"`, ClassReadOnly},

		{"rm", "rm -rf /tmp/scratch", ClassDestructive},
		{"dd", "dd if=/dev/zero of=/dev/sda", ClassDestructive},
		{"mkfs variant", "mkfs.ext4 /dev/sda1", ClassDestructive},
		{"truncate", "truncate -s 0 app.log", ClassDestructive},
		{"sudo", "sudo systemctl restart nginx", ClassDestructive},
		{"chmod", "chmod 777 /etc/passwd", ClassDestructive},
		{"chown", "chown root:root /etc", ClassDestructive},
		{"redirect", "echo data > /etc/hosts", ClassDestructive},
		{"append redirect", "cat notes >> /tmp/out", ClassDestructive},
		{"rm behind chain", "ls /tmp && rm -rf /tmp", ClassDestructive},
		{"drop table", "mysql -e 'x' drop", ClassDestructive},

		{"pipe", "cat file | grep pattern", ClassUnknown},
		{"semicolon chain", "ls; whoami", ClassUnknown},
		{"and chain", "true && cat /etc/hosts", ClassUnknown},
		{"subshell", "echo $(whoami)", ClassUnknown},
		{"backtick", "echo `hostname`", ClassUnknown},
		{"docker restart", "docker restart web", ClassUnknown},
		{"git commit", "git commit -m x", ClassUnknown},
		{"kubectl apply", "kubectl apply -f deploy.yaml", ClassUnknown},
		{"unrecognized binary", "terraform plan", ClassUnknown},
		{"empty", "   ", ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.command)
			if got.Class != tt.want {
				t.Errorf("Classify(%q) = %v (%s), want %v", tt.command, got.Class, got.Reason, tt.want)
			}
		})
	}
}

func TestClassifyDestructiveBeatsChaining(t *testing.T) {
	// A destructive token anywhere wins even when chaining would otherwise
	// stop classification early.
	got := Classify("cat ok.txt; rm -rf /")
	if got.Class != ClassDestructive {
		t.Fatalf("Classify = %v (%s), want destructive", got.Class, got.Reason)
	}
}

func TestIsReadOnlyAndIsDestructive(t *testing.T) {
	if !IsReadOnly("docker ps") {
		t.Error("IsReadOnly(docker ps) = false")
	}
	if IsReadOnly("docker restart web") {
		t.Error("IsReadOnly(docker restart web) = true")
	}
	if !IsDestructive("rm -rf /") {
		t.Error("IsDestructive(rm -rf /) = false")
	}
	if IsDestructive("docker ps") {
		t.Error("IsDestructive(docker ps) = true")
	}
}

func TestCheckDeclared(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantFlag bool
	}{
		{"fixed read-only", "docker ps", false},
		{"fixed logs", "docker logs", false},
		{"fixed compose", "docker compose up", false},
		{"destructive template", "rm -rf {path}", true},
		{"brace placeholder", "sh -c {command}", true},
		{"printf placeholder", "curl %s", true},
		{"env splice", "cat $FILE", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason := CheckDeclared(tt.template)
			if (reason != "") != tt.wantFlag {
				t.Errorf("CheckDeclared(%q) = %q, wantFlag=%v", tt.template, reason, tt.wantFlag)
			}
		})
	}
}

func TestStripQuotedHidesQuotedSyntax(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    Class
	}{
		{"quoted pipe", `grep "a|b" file`, ClassReadOnly},
		{"quoted redirect", `echo '1 > 2'`, ClassReadOnly},
		{"escaped space", `cat file\ name`, ClassReadOnly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.command)
			if got.Class != tt.want {
				t.Errorf("Classify(%q) = %v (%s), want %v", tt.command, got.Class, got.Reason, tt.want)
			}
		})
	}
}
