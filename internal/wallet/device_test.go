package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_DescribeDevice(t *testing.T) {
	mobile := DescribeDevice("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")
	assert.Equal(t, "safari", mobile.Browser)
	assert.Equal(t, "mobile", mobile.Platform)

	empty := DescribeDevice("")
	assert.Equal(t, "unknown", empty.Browser)
	assert.Equal(t, "unknown", empty.OS)
	assert.Equal(t, "desktop", empty.Platform)

	fields := mobile.LogFields()
	assert.Len(t, fields, 6)
	assert.Equal(t, "device_browser", fields[0])
}
