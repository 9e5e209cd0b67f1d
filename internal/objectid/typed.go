package objectid

import (
	"encoding/json"

	"github.com/google/uuid"
)

// The types below give each entity its own Go type over ID, so a TaskID
// can never be passed where an ActionID is expected. Rust's original used
// a single const-generic ObjectId<PREFIX>; Go has no compile-time string
// constant to parameterize on, so each kind gets its own named type
// instead, all sharing the same encode/decode/storage logic via ID.

type TaskID struct{ ID }
type OrgID struct{ ID }
type RoleID struct{ ID }
type UserID struct{ ID }
type InputID struct{ ID }
type ActionID struct{ ID }
type InputCategoryID struct{ ID }
type ActionCategoryID struct{ ID }
type AccountID struct{ ID }
type TaskTriggerID struct{ ID }
type TaskTemplateID struct{ ID }
type NotifyEndpointID struct{ ID }
type NotifyListenerID struct{ ID }

func NewTaskID() TaskID                     { return TaskID{New(KindTask)} }
func NewOrgID() OrgID                       { return OrgID{New(KindOrg)} }
func NewRoleID() RoleID                     { return RoleID{New(KindRole)} }
func NewUserID() UserID                     { return UserID{New(KindUser)} }
func NewInputID() InputID                   { return InputID{New(KindInput)} }
func NewActionID() ActionID                 { return ActionID{New(KindAction)} }
func NewInputCategoryID() InputCategoryID   { return InputCategoryID{New(KindInputCategory)} }
func NewActionCategoryID() ActionCategoryID { return ActionCategoryID{New(KindActionCategory)} }
func NewAccountID() AccountID               { return AccountID{New(KindAccount)} }
func NewTaskTriggerID() TaskTriggerID       { return TaskTriggerID{New(KindTaskTrigger)} }
func NewTaskTemplateID() TaskTemplateID     { return TaskTemplateID{New(KindTaskTemplate)} }
func NewNotifyEndpointID() NotifyEndpointID { return NotifyEndpointID{New(KindNotifyEndpoint)} }
func NewNotifyListenerID() NotifyListenerID { return NotifyListenerID{New(KindNotifyListener)} }

func TaskIDFromUUID(u uuid.UUID) TaskID     { return TaskID{FromUUID(KindTask, u)} }
func OrgIDFromUUID(u uuid.UUID) OrgID       { return OrgID{FromUUID(KindOrg, u)} }
func UserIDFromUUID(u uuid.UUID) UserID     { return UserID{FromUUID(KindUser, u)} }
func InputIDFromUUID(u uuid.UUID) InputID   { return InputID{FromUUID(KindInput, u)} }
func ActionIDFromUUID(u uuid.UUID) ActionID { return ActionID{FromUUID(KindAction, u)} }
func AccountIDFromUUID(u uuid.UUID) AccountID {
	return AccountID{FromUUID(KindAccount, u)}
}
func TaskTriggerIDFromUUID(u uuid.UUID) TaskTriggerID {
	return TaskTriggerID{FromUUID(KindTaskTrigger, u)}
}

func ParseTaskID(s string) (TaskID, error) {
	id, err := Parse(KindTask, s)
	return TaskID{id}, err
}
func ParseOrgID(s string) (OrgID, error) {
	id, err := Parse(KindOrg, s)
	return OrgID{id}, err
}
func ParseUserID(s string) (UserID, error) {
	id, err := Parse(KindUser, s)
	return UserID{id}, err
}
func ParseInputID(s string) (InputID, error) {
	id, err := Parse(KindInput, s)
	return InputID{id}, err
}
func ParseActionID(s string) (ActionID, error) {
	id, err := Parse(KindAction, s)
	return ActionID{id}, err
}
func ParseAccountID(s string) (AccountID, error) {
	id, err := Parse(KindAccount, s)
	return AccountID{id}, err
}
func ParseTaskTriggerID(s string) (TaskTriggerID, error) {
	id, err := Parse(KindTaskTrigger, s)
	return TaskTriggerID{id}, err
}
func ParseTaskTemplateID(s string) (TaskTemplateID, error) {
	id, err := Parse(KindTaskTemplate, s)
	return TaskTemplateID{id}, err
}

func (id *TaskID) UnmarshalJSON(b []byte) error     { return unmarshalTyped(&id.ID, KindTask, b) }
func (id *OrgID) UnmarshalJSON(b []byte) error      { return unmarshalTyped(&id.ID, KindOrg, b) }
func (id *RoleID) UnmarshalJSON(b []byte) error     { return unmarshalTyped(&id.ID, KindRole, b) }
func (id *UserID) UnmarshalJSON(b []byte) error     { return unmarshalTyped(&id.ID, KindUser, b) }
func (id *InputID) UnmarshalJSON(b []byte) error    { return unmarshalTyped(&id.ID, KindInput, b) }
func (id *ActionID) UnmarshalJSON(b []byte) error   { return unmarshalTyped(&id.ID, KindAction, b) }
func (id *AccountID) UnmarshalJSON(b []byte) error  { return unmarshalTyped(&id.ID, KindAccount, b) }
func (id *TaskTriggerID) UnmarshalJSON(b []byte) error {
	return unmarshalTyped(&id.ID, KindTaskTrigger, b)
}
func (id *TaskTemplateID) UnmarshalJSON(b []byte) error {
	return unmarshalTyped(&id.ID, KindTaskTemplate, b)
}
func (id *InputCategoryID) UnmarshalJSON(b []byte) error {
	return unmarshalTyped(&id.ID, KindInputCategory, b)
}
func (id *ActionCategoryID) UnmarshalJSON(b []byte) error {
	return unmarshalTyped(&id.ID, KindActionCategory, b)
}
func (id *NotifyEndpointID) UnmarshalJSON(b []byte) error {
	return unmarshalTyped(&id.ID, KindNotifyEndpoint, b)
}
func (id *NotifyListenerID) UnmarshalJSON(b []byte) error {
	return unmarshalTyped(&id.ID, KindNotifyListener, b)
}

// unmarshalTyped tries the prefixed form for the given kind first, then
// falls back to a bare UUID string, matching the Rust deserializer's
// visit_str fallback.
func unmarshalTyped(dst *ID, kind Kind, b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	id, err := Parse(kind, s)
	if err == nil {
		*dst = id
		return nil
	}
	u, uerr := uuid.Parse(s)
	if uerr != nil {
		return err
	}
	*dst = FromUUID(kind, u)
	return nil
}

// Scan implements sql.Scanner for repository code reading a raw uuid
// column back into a typed id.
func (id *TaskID) Scan(src any) error     { return ScanInto(&id.ID, KindTask, src) }
func (id *OrgID) Scan(src any) error      { return ScanInto(&id.ID, KindOrg, src) }
func (id *UserID) Scan(src any) error     { return ScanInto(&id.ID, KindUser, src) }
func (id *InputID) Scan(src any) error    { return ScanInto(&id.ID, KindInput, src) }
func (id *ActionID) Scan(src any) error   { return ScanInto(&id.ID, KindAction, src) }
func (id *AccountID) Scan(src any) error  { return ScanInto(&id.ID, KindAccount, src) }
func (id *TaskTriggerID) Scan(src any) error {
	return ScanInto(&id.ID, KindTaskTrigger, src)
}
func (id *TaskTemplateID) Scan(src any) error {
	return ScanInto(&id.ID, KindTaskTemplate, src)
}
