// Package student содержит доменную модель студента TAP LMS.
//
// Журнал этапов не владеет студентами: он только читает их идентичность
// и зачисления на курсы. Пакет определяет:
//
//   - Сущности: Student, Enrollment
//   - Value Objects: GlificID, Contact
//   - Интерфейс репозитория: Repository (поиск по фильтру)
//   - Доменный сервис Finder: поиск по контакту с убыванием точности
//
// # Поиск по контакту
//
// Телефон сам по себе не уникален, поэтому Finder никогда не ищет только по нему:
//
//	match, err := student.NewFinder(repo).FindByContact(ctx, student.Contact{
//	    ID:    "glific-42",
//	    Phone: "919876543210",
//	    Name:  "Asha",
//	})
//	if match.IsAmbiguous() {
//	    // несколько студентов с одним Glific ID, взят первый
//	}
package student
