package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("  Wasabi ")
	require.NoError(t, err)
	assert.Equal(t, KindWasabi, k)

	_, err = ParseKind("ftp")
	assert.True(t, IsValidation(err))
}

func TestKind_Endpoint(t *testing.T) {
	assert.Equal(t, "https://s3.eu-central-1.wasabisys.com", KindWasabi.Endpoint("eu-central-1"))
	assert.Equal(t, "https://nyc3.digitaloceanspaces.com", KindSpaces.Endpoint(""))
	assert.Equal(t, "", KindS3.Endpoint("us-west-2"))
	assert.Equal(t, "", KindR2.Endpoint(""))
}

func TestKinds_LocalFirst(t *testing.T) {
	all := Kinds()
	require.NotEmpty(t, all)
	assert.Equal(t, KindDefault, all[0].Kind)
	for _, info := range all {
		assert.NotEmpty(t, info.Label, "kind %s has no label", info.Kind)
	}
}

func TestRoutingRules_Normalize(t *testing.T) {
	rules := &RoutingRules{FileTypes: []string{".JPG", "jpg", " png ", ""}}
	n := rules.Normalize()
	require.NotNil(t, n)
	assert.Equal(t, []string{"jpg", "png"}, n.FileTypes)

	assert.Nil(t, (&RoutingRules{FileTypes: []string{"", "."}}).Normalize())
	assert.Nil(t, (*RoutingRules)(nil).Normalize())
}

func TestCredentials_Missing(t *testing.T) {
	assert.Equal(t, []string{"access_key", "secret_key", "bucket"}, Credentials{}.Missing())
	assert.True(t, Credentials{AccessKey: "a", SecretKey: "s", Bucket: "b"}.Complete())
}
