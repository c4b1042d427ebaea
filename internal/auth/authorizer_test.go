package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const aclModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

const aclPolicy = `
p, root, tree, read
p, root, tree, write
p, nobody, tree, read
`

func newTestAuthorizer(t *testing.T) *Authorizer {
	t.Helper()
	dir := t.TempDir()

	modelFile := filepath.Join(dir, "model.conf")
	require.NoError(t, os.WriteFile(modelFile, []byte(aclModel), 0o644))

	policyFile := filepath.Join(dir, "policy.csv")
	require.NoError(t, os.WriteFile(policyFile, []byte(aclPolicy), 0o644))

	return New(modelFile, policyFile)
}

func TestAuthorizeRootMayReadAndWrite(t *testing.T) {
	a := newTestAuthorizer(t)
	require.NoError(t, a.Authorize("root", "tree", "read"))
	require.NoError(t, a.Authorize("root", "tree", "write"))
}

func TestAuthorizeNobodyMayOnlyRead(t *testing.T) {
	a := newTestAuthorizer(t)
	require.NoError(t, a.Authorize("nobody", "tree", "read"))
	require.Error(t, a.Authorize("nobody", "tree", "write"))
}

func TestAuthorizeUnknownSubjectIsDenied(t *testing.T) {
	a := newTestAuthorizer(t)
	require.Error(t, a.Authorize("stranger", "tree", "read"))
}
