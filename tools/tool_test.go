package tools

import "testing"

func TestToAddressString(t *testing.T) {
	tests := []struct {
		name string
		host string
		port uint16
		want string
	}{
		// Case1
		{
			name: "ipv4",
			host: "127.0.0.1",
			port: 20096,
			want: "127.0.0.1:20096",
		},
		// Case2
		{
			name: "ipv6",
			host: "::1",
			port: 7,
			want: "[::1]:7",
		},
		// Case3
		{
			name: "hostname",
			host: "localhost",
			port: 65535,
			want: "localhost:65535",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToAddressString(tt.host, tt.port); got != tt.want {
				t.Errorf("ToAddressString() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_getUserShellByPasswd(t *testing.T) {
	passwd := "root:x:0:0:root:/root:/bin/bash\n" +
		"daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin\n" +
		"broken:line\n"
	if got := getUserShellByPasswd(passwd, "root"); got != "/bin/bash" {
		t.Errorf("getUserShellByPasswd() = %v, want /bin/bash", got)
	}
	if got := getUserShellByPasswd(passwd, "nobody"); got != "" {
		t.Errorf("getUserShellByPasswd() = %v, want empty", got)
	}
}
