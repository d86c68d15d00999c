//go:build cgo && dxfeed_native

package native

// Тонкие C-обёртки над DXFeed.h. Определения живут в отдельном файле:
// преамбула файла с //export может содержать только объявления.

/*
#cgo CFLAGS: -I${SRCDIR}/../../../third_party/dxfeed-c-api/include
#cgo LDFLAGS: -L${SRCDIR}/../../../third_party/dxfeed-c-api/build -lDXFeed -lpthread -lstdc++ -lm
#include <stdint.h>
#include <stddef.h>
#include "DXFeed.h"

extern void dxfeedGoOnEvent(int event_type, void* symbol, void* data, int data_count, void* user_data);
extern void dxfeedGoOnTermination(void* user_data);
extern void dxfeedGoOnStatus(int old_status, int new_status, void* user_data);

static void dxfeed_event_trampoline(int event_type, dxf_const_string_t symbol_name,
                                    const dxf_event_data_t* data, int data_count, void* user_data) {
	dxfeedGoOnEvent(event_type, (void*)symbol_name, (void*)data, data_count, user_data);
}

static void dxfeed_termination_trampoline(dxf_connection_t connection, void* user_data) {
	(void)connection;
	dxfeedGoOnTermination(user_data);
}

static void dxfeed_status_trampoline(dxf_connection_t connection, dxf_connection_status_t old_status,
                                     dxf_connection_status_t new_status, void* user_data) {
	(void)connection;
	dxfeedGoOnStatus((int)old_status, (int)new_status, user_data);
}

int dxfeed_connect(const char* address, uintptr_t token, uintptr_t* out) {
	dxf_connection_t conn = NULL;
	int rc = dxf_create_connection(address, dxfeed_termination_trampoline, dxfeed_status_trampoline,
	                               NULL, NULL, (void*)token, &conn);
	*out = (uintptr_t)conn;
	return rc;
}

int dxfeed_connect_basic(const char* address, const char* user, const char* password,
                         uintptr_t token, uintptr_t* out) {
	dxf_connection_t conn = NULL;
	int rc = dxf_create_connection_auth_basic(address, user, password, dxfeed_termination_trampoline,
	                                          dxfeed_status_trampoline, NULL, NULL, (void*)token, &conn);
	*out = (uintptr_t)conn;
	return rc;
}

int dxfeed_connect_bearer(const char* address, const char* auth_token, uintptr_t token, uintptr_t* out) {
	dxf_connection_t conn = NULL;
	int rc = dxf_create_connection_auth_bearer(address, auth_token, dxfeed_termination_trampoline,
	                                           dxfeed_status_trampoline, NULL, NULL, (void*)token, &conn);
	*out = (uintptr_t)conn;
	return rc;
}

int dxfeed_close_connection(uintptr_t conn) {
	return dxf_close_connection((dxf_connection_t)conn);
}

int dxfeed_create_subscription(uintptr_t conn, int event_types, uintptr_t* out) {
	dxf_subscription_t sub = NULL;
	int rc = dxf_create_subscription((dxf_connection_t)conn, event_types, &sub);
	*out = (uintptr_t)sub;
	return rc;
}

int dxfeed_close_subscription(uintptr_t sub) {
	return dxf_close_subscription((dxf_subscription_t)sub);
}

int dxfeed_attach(uintptr_t sub, uintptr_t token) {
	return dxf_attach_event_listener((dxf_subscription_t)sub, dxfeed_event_trampoline, (void*)token);
}

int dxfeed_detach(uintptr_t sub) {
	return dxf_detach_event_listener((dxf_subscription_t)sub, dxfeed_event_trampoline);
}

int dxfeed_add_symbols(uintptr_t sub, void* symbols, int count) {
	return dxf_add_symbols((dxf_subscription_t)sub, (dxf_const_string_t*)symbols, count);
}

int dxfeed_remove_symbols(uintptr_t sub, void* symbols, int count) {
	return dxf_remove_symbols((dxf_subscription_t)sub, (dxf_const_string_t*)symbols, count);
}

void dxfeed_last_error(int* code, void** descr) {
	dxf_const_string_t d = NULL;
	*code = 0;
	dxf_get_last_error(code, &d);
	*descr = (void*)d;
}
*/
import "C"
