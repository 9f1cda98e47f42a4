package nuget

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ralt/repoindex/internal/models"
	"github.com/ralt/repoindex/internal/storage"
	"github.com/ralt/repoindex/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	config := &models.RepositoryConfig{Name: "nuget", Type: "nuget"}
	config.ApplyDefaults()
	require.NoError(t, config.Validate())
	return NewGenerator(config)
}

func extract(t *testing.T, gen *Generator, opts testutil.NupkgOptions) (*models.PackageMetadata, []byte) {
	t.Helper()
	blob := testutil.BuildNupkg(opts)
	pkg, err := gen.Extract(blob)
	require.NoError(t, err)
	return pkg, blob
}

func push(t *testing.T, gen *Generator, st storage.Storage, pkg *models.PackageMetadata, blob []byte) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, gen.Publish(ctx, st, pkg, blob))
	require.NoError(t, gen.Add(ctx, st, pkg))
	require.NoError(t, gen.Regenerate(ctx, st, pkg))
}

func unlist(t *testing.T, gen *Generator, st storage.Storage, pkg *models.PackageMetadata) {
	t.Helper()
	ctx := context.Background()
	removed, err := gen.Remove(ctx, st, pkg)
	require.NoError(t, err)
	require.True(t, removed)
	require.NoError(t, gen.Regenerate(ctx, st, pkg))
	require.NoError(t, gen.Unpublish(ctx, st, pkg))
}

func readRegistration(t *testing.T, st storage.Storage, id string) (string, Registration) {
	t.Helper()
	data, err := st.Read(context.Background(), "nuget/registrations/"+id+"/index.json")
	require.NoError(t, err)
	var reg Registration
	require.NoError(t, json.Unmarshal(data, &reg))
	return string(data), reg
}

func readVersions(t *testing.T, st storage.Storage, id string) []string {
	t.Helper()
	data, err := st.Read(context.Background(), "nuget/"+id+"/index.json")
	require.NoError(t, err)
	var v Versions
	require.NoError(t, json.Unmarshal(data, &v))
	return v.Versions
}

func TestExtract(t *testing.T) {
	gen := newTestGenerator(t)
	pkg, _ := extract(t, gen, testutil.NupkgOptions{
		ID:      "Newtonsoft.Json",
		Version: "13.0.01.0",
		Authors: "James Newton-King, Contributors",
		Extra: `<tags>json serializer</tags>
    <projectUrl>https://www.newtonsoft.com/json</projectUrl>
    <dependencies>
      <group targetFramework="net6.0">
        <dependency id="System.Memory" version="4.5.0" />
      </group>
      <group targetFramework="net8.0" />
    </dependencies>`,
	})

	assert.Equal(t, "newtonsoft.json", pkg.Name)
	assert.Equal(t, "13.0.1", pkg.Version)
	assert.Empty(t, pkg.Variants)
	assert.Equal(t, []string{"System.Memory"}, pkg.Dependencies)
	assert.Equal(t, "newtonsoft.json/13.0.1/newtonsoft.json.13.0.1.nupkg", pkg.Filename)

	entry := catalogEntry(pkg)
	assert.Equal(t, "Newtonsoft.Json", entry.PackageID)
	assert.Equal(t, "13.0.1", entry.Version)
	assert.Equal(t, StringOrList{"James Newton-King", "Contributors"}, entry.Authors)
	assert.Equal(t, StringOrList{"json", "serializer"}, entry.Tags)
	assert.Equal(t, []DependencyGroup{
		{TargetFramework: "net6.0", Dependencies: []Dependency{{ID: "System.Memory", Range: "[4.5.0, )"}}},
		{TargetFramework: "net8.0", Dependencies: []Dependency{}},
	}, entry.DependencyGroups)
}

func TestExtractErrors(t *testing.T) {
	gen := newTestGenerator(t)

	tests := map[string][]byte{
		"not a zip":       []byte("PK but not really"),
		"no nuspec":       testutil.BuildZip(map[string]string{"lib/a.dll": "x"}),
		"nested nuspec":   testutil.BuildZip(map[string]string{"sub/a.nuspec": "<package/>"}),
		"broken xml":      testutil.BuildZip(map[string]string{"a.nuspec": "<package><metadata>"}),
		"missing id":      testutil.BuildNupkg(testutil.NupkgOptions{Version: "1.0.0"}),
		"invalid version": testutil.BuildNupkg(testutil.NupkgOptions{ID: "a", Version: "one"}),
	}
	for name, blob := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := gen.Extract(blob)
			assert.True(t, models.IsType(err, models.ErrInvalidPackageFormat), "got %v", err)
		})
	}
}

func TestRegistrationLayout(t *testing.T) {
	gen := newTestGenerator(t)
	st := storage.NewMemory()
	pkg, blob := extract(t, gen, testutil.NupkgOptions{ID: "Hello", Version: "1.0.0", Authors: "Ann"})
	push(t, gen, st, pkg, blob)

	raw, _ := readRegistration(t, st, "hello")
	want := `{"count":1,"items":[{"@id":"null","count":1,"lower":"1.0.0","upper":"1.0.0","items":[` +
		`{"@id":"null","packageContent":"null","catalogEntry":{"@id":"null","id":"Hello","version":"1.0.0",` +
		`"description":"A test package","authors":"Ann","dependencyGroups":[]}}]}]}`
	assert.Equal(t, want, raw)
}

func TestScenario(t *testing.T) {
	gen := newTestGenerator(t)
	st := storage.NewMemory()
	ctx := context.Background()

	v1, blob1 := extract(t, gen, testutil.NupkgOptions{ID: "P", Version: "1.0"})
	v2, blob2 := extract(t, gen, testutil.NupkgOptions{ID: "P", Version: "2.0"})
	pre, blobPre := extract(t, gen, testutil.NupkgOptions{ID: "P", Version: "2.0.0-beta.10"})

	push(t, gen, st, v1, blob1)
	_, reg := readRegistration(t, st, "p")
	require.Len(t, reg.Items, 1)
	assert.Equal(t, 1, reg.Items[0].Count)

	push(t, gen, st, v2, blob2)
	push(t, gen, st, pre, blobPre)
	_, reg = readRegistration(t, st, "p")
	page := reg.Items[0]
	assert.Equal(t, 3, page.Count)
	assert.Equal(t, "1.0.0", page.Lower)
	assert.Equal(t, "2.0.0", page.Upper)
	var order []string
	for _, leaf := range page.Items {
		order = append(order, leaf.CatalogEntry.Version)
	}
	assert.Equal(t, []string{"1.0.0", "2.0.0-beta.10", "2.0.0"}, order)
	assert.Equal(t, []string{"1.0.0", "2.0.0-beta.10", "2.0.0"}, readVersions(t, st, "p"))

	unlist(t, gen, st, v1)
	unlist(t, gen, st, pre)
	_, reg = readRegistration(t, st, "p")
	assert.Equal(t, "2.0.0", reg.Items[0].Lower)
	assert.Equal(t, "2.0.0", reg.Items[0].Upper)

	unlist(t, gen, st, v2)
	raw, reg := readRegistration(t, st, "p")
	assert.Equal(t, `{"count":0,"items":[]}`, raw)
	assert.Empty(t, readVersions(t, st, "p"))

	keys, err := st.List(ctx, "nuget/p")
	require.NoError(t, err)
	assert.Equal(t, []string{"nuget/p/index.json"}, keys)

	// Bounds keep the case of the catalog versions
	beta, blobBeta := extract(t, gen, testutil.NupkgOptions{ID: "P", Version: "1.0.0-Beta"})
	rc, blobRC := extract(t, gen, testutil.NupkgOptions{ID: "P", Version: "1.0.0-RC.2"})
	push(t, gen, st, beta, blobBeta)
	push(t, gen, st, rc, blobRC)
	_, reg = readRegistration(t, st, "p")
	page = reg.Items[0]
	assert.Equal(t, "1.0.0-Beta", page.Lower)
	assert.Equal(t, "1.0.0-RC.2", page.Upper)
	assert.Equal(t, "1.0.0-Beta", page.Items[0].CatalogEntry.Version)
	assert.Equal(t, "1.0.0-RC.2", page.Items[1].CatalogEntry.Version)
}

func TestPublishArtifacts(t *testing.T) {
	gen := newTestGenerator(t)
	st := storage.NewMemory()
	ctx := context.Background()
	pkg, blob := extract(t, gen, testutil.NupkgOptions{ID: "Hello", Version: "1.2.3"})
	require.NoError(t, gen.Publish(ctx, st, pkg, blob))

	keys, err := st.List(ctx, "nuget/hello/1.2.3")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"nuget/hello/1.2.3/hello.1.2.3.nupkg",
		"nuget/hello/1.2.3/hello.1.2.3.nupkg.sha512",
		"nuget/hello/1.2.3/hello.nuspec",
	}, keys)

	hash, err := st.Read(ctx, "nuget/hello/1.2.3/hello.1.2.3.nupkg.sha512")
	require.NoError(t, err)
	sum := sha512.Sum512(blob)
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), string(hash))

	nuspec, err := st.Read(ctx, "nuget/hello/1.2.3/hello.nuspec")
	require.NoError(t, err)
	assert.Contains(t, string(nuspec), "<id>Hello</id>")
}

func TestReAddIsIdempotent(t *testing.T) {
	gen := newTestGenerator(t)
	st := storage.NewMemory()
	pkg, blob := extract(t, gen, testutil.NupkgOptions{ID: "Hello", Version: "1.0.0"})

	push(t, gen, st, pkg, blob)
	first, _ := readRegistration(t, st, "hello")
	push(t, gen, st, pkg, blob)
	second, reg := readRegistration(t, st, "hello")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, reg.Items[0].Count)

	ok, err := gen.Contains(context.Background(), st, pkg)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveKey(t *testing.T) {
	gen := newTestGenerator(t)

	for _, target := range []string{"Hello/1.0", "hello/1.0.0", "hello/1.0.0/hello.1.0.0.nupkg"} {
		key, err := gen.ResolveKey(target)
		require.NoError(t, err, target)
		assert.Equal(t, "nuget/hello/1.0.0/hello.1.0.0.nupkg", key)
	}
	for _, target := range []string{"hello", "hello/latest", "registrations/hello", "a/b/c/d"} {
		_, err := gen.ResolveKey(target)
		assert.True(t, models.IsType(err, models.ErrNotFound), target)
	}
}

func TestRemoveAbsent(t *testing.T) {
	gen := newTestGenerator(t)
	st := storage.NewMemory()
	pkg, _ := extract(t, gen, testutil.NupkgOptions{ID: "Hello", Version: "1.0.0"})

	removed, err := gen.Remove(context.Background(), st, pkg)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = st.Read(context.Background(), "nuget/registrations/hello/index.json")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStringOrList(t *testing.T) {
	for input, want := range map[string]StringOrList{
		`"a"`:       {"a"},
		`["a","b"]`: {"a", "b"},
	} {
		var s StringOrList
		require.NoError(t, json.Unmarshal([]byte(input), &s))
		assert.Equal(t, want, s)

		out, err := json.Marshal(s)
		require.NoError(t, err)
		assert.JSONEq(t, input, string(out))
	}
}
