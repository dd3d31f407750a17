package testutil

import (
	"time"

	"task-router/internal/tasks"
)

// Subjects used by the appointment fixture
const (
	AppointmentSubject = "APPOINTMENT_CREATE_EVENT_SUBJECT"
	SMSSubject         = "SEND_SMS"
	AppointmentTaskID  = "taskId1"
	TestProviderName   = "TEST"
	TestObjectType     = "TestObject"
)

// AppointmentTrigger returns the trigger definition of the appointment fixture
func AppointmentTrigger() *tasks.TaskEvent {
	return &tasks.TaskEvent{
		Subject:     AppointmentSubject,
		DisplayName: "Create appointment",
		Parameters: []tasks.EventParameter{
			{DisplayName: "ExternalID", Key: "externalId"},
			{DisplayName: "StartDate", Key: "startDate", Type: tasks.TypeDate},
			{DisplayName: "EndDate", Key: "endDate", Type: tasks.TypeDate},
			{DisplayName: "FacilityId", Key: "facilityId"},
			{DisplayName: "EventName", Key: "eventName"},
		},
	}
}

// SMSAction returns the action definition of the appointment fixture
func SMSAction() *tasks.TaskEvent {
	return &tasks.TaskEvent{
		Subject:     SMSSubject,
		DisplayName: "SMS",
		Parameters: []tasks.EventParameter{
			{DisplayName: "Phone", Key: "phone", Type: tasks.TypeNumber},
			{DisplayName: "Message", Key: "message", Type: tasks.TypeTextArea},
			{DisplayName: "Date", Key: "date", Type: tasks.TypeDate},
			{DisplayName: "Manipulation", Key: "manipulation"},
			{DisplayName: "DS", Key: "ds"},
		},
	}
}

// AppointmentFilters returns filters that all accept AppointmentParams
func AppointmentFilters() []tasks.Filter {
	eventName := tasks.EventParameter{DisplayName: "EventName", Key: "eventName"}
	externalID := tasks.EventParameter{DisplayName: "ExternalID", Key: "externalId", Type: tasks.TypeNumber}

	return []tasks.Filter{
		{Parameter: eventName, Operator: tasks.OpContains, Expression: "ven"},
		{Parameter: eventName, Operator: tasks.OpExist},
		{Parameter: eventName, Operator: tasks.OpEquals, Expression: "event name"},
		{Parameter: eventName, Operator: tasks.OpStartsWith, Expression: "ev"},
		{Parameter: eventName, Operator: tasks.OpEndsWith, Expression: "me"},
		{Parameter: externalID, Operator: tasks.OpGT, Expression: "19"},
		{Parameter: externalID, Operator: tasks.OpLT, Expression: "1234567891"},
		{Parameter: externalID, Operator: tasks.OpEquals, Expression: "123456789"},
		{Parameter: externalID, Operator: tasks.OpExist},
		{Parameter: externalID, Negate: true, Operator: tasks.OpGT, Expression: "1234567891"},
	}
}

// AppointmentTask returns an enabled task sending an SMS for every created appointment
func AppointmentTask() *tasks.Task {
	return &tasks.Task{
		ID:      AppointmentTaskID,
		Name:    "Appointment SMS",
		Trigger: AppointmentSubject,
		Action:  SMSSubject,
		ActionInputFields: map[string]string{
			"phone":        "123456",
			"message":      "Hello {{trigger.externalId}}, You have an appointment on {{trigger.startDate}}",
			"manipulation": "string: {{trigger.eventName?toUpper?toLower?capitalize?join(-)}}, date: {{trigger.startDate?dateTime(yyyyMMdd)}}",
			"date":         "2012-12-21 21:21 +0100",
			"ds":           "test: {{ad.TEST.TestObject#1.field.id}}",
		},
		Filters: AppointmentFilters(),
		AdditionalData: map[string][]tasks.AdditionalData{
			TestProviderName: {{ID: 1, Type: TestObjectType, LookupField: "id", LookupValue: "externalId"}},
		},
		Enabled: true,
	}
}

// AppointmentParams returns trigger parameters accepted by AppointmentTask
func AppointmentParams() map[string]tasks.Value {
	return map[string]tasks.Value{
		"externalId": tasks.IntValue(123456789),
		"startDate":  tasks.LocalDateValue(2012, time.November, 20),
		"endDate":    tasks.LocalDateValue(2012, time.November, 29),
		"facilityId": tasks.IntValue(987654321),
		"eventName":  tasks.TextValue("event name"),
	}
}

// AppointmentLookupFields are the lookup fields AppointmentTask sends to the TEST provider
func AppointmentLookupFields() map[string]string {
	return map[string]string{"id": "123456789"}
}

// AppointmentProvider returns the TEST provider serving the object referenced by AppointmentTask
func AppointmentProvider() *MockProvider {
	p := NewMockProvider(TestProviderName, TestObjectType)
	p.Put(TestObjectType, AppointmentLookupFields(), tasks.Record{
		"field": map[string]interface{}{"id": 6789},
	})
	return p
}

// AppointmentFixture is a task source, activity sink and relay seeded with the appointment task
type AppointmentFixture struct {
	Source   *MockTaskSource
	Sink     *MockActivitySink
	Relay    *MockRelay
	Provider *MockProvider
	Task     *tasks.Task
}

// NewAppointmentFixture builds the appointment fixture
func NewAppointmentFixture() *AppointmentFixture {
	f := &AppointmentFixture{
		Source:   NewMockTaskSource(),
		Sink:     NewMockActivitySink(),
		Relay:    NewMockRelay(),
		Provider: AppointmentProvider(),
		Task:     AppointmentTask(),
	}
	f.Source.AddTrigger(AppointmentTrigger())
	f.Source.AddAction(SMSSubject, SMSAction())
	f.Source.AddTask(f.Task)
	return f
}

// AppointmentEvent returns the inbound trigger event of the fixture
func AppointmentEvent() tasks.Event {
	return tasks.Event{Subject: AppointmentSubject, Parameters: AppointmentParams()}
}
