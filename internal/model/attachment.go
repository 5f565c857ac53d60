package model

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"backend/internal/core"
)

// ir.attachment backs every attachment field: the file payload lives here as
// base64, keyed back to its owner through (res_model, res_id, res_field).
func defineAttachment() *core.Model {
	return core.MustDefine(core.ModelDef{
		Name:        core.AttachmentModel,
		Table:       "ir_attachment",
		Description: "Attachment",
		NameField:   "name",
		Fields: []core.FieldDef{
			{Name: "name", Field: core.Field{Type: core.FieldString, Label: "Filename", Required: core.Flag(true)}},
			{Name: "datas", Field: core.Field{Type: core.FieldText, Label: "File Content"}},
			{Name: "file_size", Field: core.Field{Type: core.FieldInteger, Label: "File Size (bytes)"}},
			{Name: "mimetype", Field: core.Field{Type: core.FieldString, Label: "MIME Type"}},
			{Name: "checksum", Field: core.Field{Type: core.FieldString, Label: "Checksum (SHA256)", Compute: "checksum", Depends: []string{"datas"}, Store: core.Bool(true)}},
			{Name: "res_model", Field: core.Field{Type: core.FieldString, Label: "Resource Model", Required: core.Flag(true)}},
			{Name: "res_id", Field: core.Field{Type: core.FieldInteger, Label: "Resource ID", Required: core.Flag(true)}},
			{Name: "res_field", Field: core.Field{Type: core.FieldString, Label: "Resource Field"}},
			{Name: "description", Field: core.Field{Type: core.FieldString, Label: "Description"}},
		},
		Computes: map[string]core.ComputeFunc{
			"checksum": computeChecksum,
		},
		Permissions: map[string]core.RolePermissions{
			"admin":             {Create: true, Read: true, Write: true, Delete: true},
			"fleet_manager":     {Create: true, Read: true, Write: true, Delete: true},
			"dispatcher":        {Create: true, Read: true, Write: true, Delete: false},
			"safety_officer":    {Create: true, Read: true, Write: true, Delete: false},
			"financial_analyst": {Create: false, Read: true, Write: false, Delete: false},
		},
	})
}

// computeChecksum hashes the decoded payload. Empty or undecodable content
// yields a nil checksum rather than an error so a bad upload never blocks the
// write that records it.
func computeChecksum(env *core.Environment, rec *core.Record) (any, error) {
	raw, err := rec.Get("datas")
	if err != nil {
		return nil, err
	}
	encoded, _ := raw.(string)
	if encoded == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, nil
	}
	sum := sha256.Sum256(decoded)
	return hex.EncodeToString(sum[:]), nil
}

// AttachmentVals builds the value set for storing a decoded upload.
func AttachmentVals(name, mimetype string, content []byte) map[string]any {
	return map[string]any{
		"name":      name,
		"datas":     base64.StdEncoding.EncodeToString(content),
		"file_size": int64(len(content)),
		"mimetype":  mimetype,
	}
}
