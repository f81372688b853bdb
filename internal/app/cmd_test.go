package app

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Command
		wantErr bool
	}{
		{name: "引数なしはserve", args: nil, want: CommandServe},
		{name: "空文字はserve", args: []string{""}, want: CommandServe},
		{name: "serve", args: []string{"serve"}, want: CommandServe},
		{name: "worker", args: []string{"worker"}, want: CommandWorker},
		{name: "migrate", args: []string{"migrate"}, want: CommandMigrate},
		{name: "healthcheck", args: []string{"healthcheck"}, want: CommandHealthcheck},
		{name: "後続の引数は無視する", args: []string{"worker", "--flag", "value"}, want: CommandWorker},
		{name: "未知のコマンドはエラー", args: []string{"export"}, wantErr: true},
		{name: "大文字は別コマンド", args: []string{"Serve"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_ErrorListsCommands(t *testing.T) {
	_, err := ParseCommand([]string{"backup"})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, c := range commands {
		if !strings.Contains(err.Error(), string(c)) {
			t.Errorf("error %q does not mention %q", err.Error(), c)
		}
	}
}
