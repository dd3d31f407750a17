package vcard

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/common/errors"
	"task-router/internal/tasks"
)

const directory = "BEGIN:VCARD\r\n" +
	"VERSION:4.0\r\n" +
	"UID:urn:uuid:ada\r\n" +
	"FN:Ada Lovelace\r\n" +
	"N:Lovelace;Ada;;;\r\n" +
	"EMAIL;TYPE=home:ada@home.example\r\n" +
	"EMAIL;TYPE=work;PREF=1:ada@work.example\r\n" +
	"TEL;TYPE=cell:+44 20 7946 0018\r\n" +
	"ORG:Analytical Engines;Research\r\n" +
	"TITLE:Programmer\r\n" +
	"BDAY:18151210\r\n" +
	"ADR;TYPE=home:;;12 St James's Square;London;;SW1Y 4JH;UK\r\n" +
	"CATEGORIES:math,engines\r\n" +
	"END:VCARD\r\n" +
	"BEGIN:VCARD\r\n" +
	"VERSION:4.0\r\n" +
	"UID:urn:uuid:grace\r\n" +
	"FN:Grace Hopper\r\n" +
	"EMAIL:grace@navy.example\r\n" +
	"END:VCARD\r\n"

func load(t *testing.T) *Provider {
	t.Helper()
	p := New("CONTACTS")
	require.NoError(t, p.Load(strings.NewReader(directory)))
	return p
}

func get(t *testing.T, obj tasks.FieldAccessor, name string) interface{} {
	t.Helper()
	v, ok := obj.Field(name)
	require.True(t, ok, "missing field %s", name)
	return v
}

func TestLoad(t *testing.T) {
	p := load(t)
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, "CONTACTS", p.Name())
	assert.True(t, p.Supports(ObjectType))
	assert.False(t, p.Supports("Event"))
}

func TestLoad_Invalid(t *testing.T) {
	p := New("CONTACTS")
	err := p.Load(strings.NewReader("NOT A CARD\r\n"))
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestLookup_ByEmail(t *testing.T) {
	p := load(t)

	obj, err := p.Lookup(context.Background(), ObjectType, map[string]string{FieldEmail: "ADA@home.example"})
	require.NoError(t, err)
	require.NotNil(t, obj)

	assert.Equal(t, "urn:uuid:ada", get(t, obj, "uid"))
	assert.Equal(t, "Ada", get(t, obj, "givenName"))
	assert.Equal(t, "Lovelace", get(t, obj, "familyName"))
	assert.Equal(t, "ada@work.example", get(t, obj, "email"))
	assert.Equal(t, "Analytical Engines", get(t, obj, "organization"))
	assert.Equal(t, "Programmer", get(t, obj, "title"))
	assert.Equal(t, "1815-12-10", get(t, obj, "birthday").(tasks.Value).String())

	address, ok := get(t, obj, "address").(tasks.FieldAccessor)
	require.True(t, ok)
	assert.Equal(t, "London", get(t, address, "city"))
	assert.Equal(t, "SW1Y 4JH", get(t, address, "postalCode"))
}

func TestLookup_ByPhoneIgnoresFormatting(t *testing.T) {
	p := load(t)

	obj, err := p.Lookup(context.Background(), ObjectType, map[string]string{FieldPhone: "442079460018"})
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, "Ada Lovelace", get(t, obj, "fullName"))
}

func TestLookup_AllFieldsMustMatch(t *testing.T) {
	p := load(t)

	obj, err := p.Lookup(context.Background(), ObjectType, map[string]string{
		FieldFullName: "grace hopper",
		FieldUID:      "urn:uuid:grace",
	})
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, "grace@navy.example", get(t, obj, "email"))

	obj, err = p.Lookup(context.Background(), ObjectType, map[string]string{
		FieldFullName: "Grace Hopper",
		FieldEmail:    "ada@work.example",
	})
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestLookup_UnknownField(t *testing.T) {
	p := load(t)
	_, err := p.Lookup(context.Background(), ObjectType, map[string]string{"shoeSize": "42"})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.vcf")
	require.NoError(t, os.WriteFile(path, []byte(directory), 0o600))

	p, err := NewFromFile("CONTACTS", path)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())

	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))
	require.NoError(t, p.Reload())
	assert.Equal(t, 0, p.Len())

	_, err = NewFromFile("CONTACTS", filepath.Join(t.TempDir(), "missing.vcf"))
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestDescribe(t *testing.T) {
	info := load(t).Describe()
	require.Len(t, info.Objects, 1)
	assert.Equal(t, ObjectType, info.Objects[0].Type)
	assert.Contains(t, info.Objects[0].LookupFields, FieldEmail)
}
