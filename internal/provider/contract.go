package provider

// Tables exposed by the content surface. Each is addressed as
// content://<authority>/<table>[/<id>].
const (
	TableTaskLists  = "tasklists"
	TableTasks      = "tasks"
	TableProperties = "properties"
)

// Task list columns.
const (
	ListID          = "_id"
	ListAccountName = "account_name"
	ListAccountType = "account_type"
	ListName        = "list_name"
	ListColor       = "list_color"
	ListSyncID      = "_sync_id"
	ListSyncVersion = "sync_version"
	ListSyncEnabled = "sync_enabled"
)

// Task columns.
const (
	TaskID          = "_id"
	TaskListID      = "list_id"
	TaskUID         = "_uid"
	TaskSyncID      = "_sync_id"
	TaskSync1       = "sync1" // etag
	TaskTitle       = "title"
	TaskDescription = "description"
	TaskStatus      = "status"
	TaskPriority    = "priority"
	TaskDue         = "due"
	TaskCompleted   = "completed"
)

// Property columns. The meaning of data0..data3 depends on the mimetype.
const (
	PropertyID       = "property_id"
	PropertyTaskID   = "task_id"
	PropertyMimetype = "mimetype"
	PropertyData0    = "data0"
	PropertyData1    = "data1"
	PropertyData2    = "data2"
	PropertyData3    = "data3"
)

// Property mimetypes.
const (
	MimeCategory        = "vnd.android.cursor.item/category"
	MimeRelation        = "vnd.android.cursor.item/relation"
	MimeUnknownProperty = "vnd.android.cursor.item/vnd.ical4android.unknown-property"
)

// Mimetype-specific aliases for the generic data columns.
const (
	CategoryName = PropertyData1

	RelationRelatedID   = PropertyData1
	RelationRelatedType = PropertyData2
	RelationRelatedUID  = PropertyData3

	UnknownPropertyData = PropertyData0
)

// Task status values.
const (
	StatusNeedsAction = 0
	StatusInProcess   = 1
	StatusCompleted   = 2
	StatusCancelled   = 3
)

// tableSpec describes one table of the content surface.
type tableSpec struct {
	primaryKey string
	columns    map[string]bool
}

var tables = map[string]tableSpec{
	TableTaskLists: {
		primaryKey: ListID,
		columns: columnSet(ListID, ListAccountName, ListAccountType, ListName,
			ListColor, ListSyncID, ListSyncVersion, ListSyncEnabled),
	},
	TableTasks: {
		primaryKey: TaskID,
		columns: columnSet(TaskID, TaskListID, TaskUID, TaskSyncID, TaskSync1,
			TaskTitle, TaskDescription, TaskStatus, TaskPriority, TaskDue, TaskCompleted),
	},
	TableProperties: {
		primaryKey: PropertyID,
		columns: columnSet(PropertyID, PropertyTaskID, PropertyMimetype,
			PropertyData0, PropertyData1, PropertyData2, PropertyData3),
	},
}

func columnSet(cols ...string) map[string]bool {
	set := make(map[string]bool, len(cols))
	for _, c := range cols {
		set[c] = true
	}
	return set
}

// Columns returns the column names of a table, or nil if the table is unknown.
func Columns(table string) []string {
	spec, ok := tables[table]
	if !ok {
		return nil
	}
	cols := make([]string, 0, len(spec.columns))
	for c := range spec.columns {
		cols = append(cols, c)
	}
	return cols
}
